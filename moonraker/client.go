package moonraker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/devadigapratham/fleet3d/api/models"
	"github.com/hashicorp/go-hclog"
)

// Default request timeouts
const (
	DefaultStatusTimeout  = 5 * time.Second
	DefaultControlTimeout = 10 * time.Second
	DefaultUploadTimeout  = 30 * time.Second
)

// Client talks to the Moonraker API of a single printer
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     hclog.Logger

	statusTimeout  time.Duration
	controlTimeout time.Duration
	uploadTimeout  time.Duration
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger used for failed requests
func WithLogger(logger hclog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithTimeouts overrides the per-request timeouts; zero values keep the default
func WithTimeouts(status, control, upload time.Duration) Option {
	return func(c *Client) {
		if status > 0 {
			c.statusTimeout = status
		}
		if control > 0 {
			c.controlTimeout = control
		}
		if upload > 0 {
			c.uploadTimeout = upload
		}
	}
}

// New creates a client for the Moonraker instance at baseURL (http://host:port)
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		httpClient:     http.DefaultClient,
		logger:         hclog.NewNullLogger(),
		statusTimeout:  DefaultStatusTimeout,
		controlTimeout: DefaultControlTimeout,
		uploadTimeout:  DefaultUploadTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the Moonraker address the client targets
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) do(ctx context.Context, op string, timeout time.Duration, req *http.Request, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("moonraker %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("moonraker %s: decode: %w", op, err)
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = env.Result
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("moonraker %s: decode result: %w", op, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, op, path string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(ctx, op, c.statusTimeout, req, out)
}

func (c *Client) post(ctx context.Context, op, path string, body interface{}) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(ctx, op, c.controlTimeout, req, nil)
}

func (c *Client) query(ctx context.Context, op string, objects ...string) (statusObjects, error) {
	var res queryResult
	err := c.get(ctx, op, "/printer/objects/query?"+strings.Join(objects, "&"), &res)
	return res.Status, err
}

// Info returns the raw /printer/info result
func (c *Client) Info(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.get(ctx, "info", "/printer/info", &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// PrintStats returns print_stats with progress taken from virtual_sdcard
func (c *Client) PrintStats(ctx context.Context) (*models.PrintStats, error) {
	objs, err := c.query(ctx, "print_stats", "print_stats", "virtual_sdcard")
	if err != nil {
		return nil, err
	}
	ps := objs.printStats()
	if ps == nil {
		ps = &models.PrintStats{}
	}
	return ps, nil
}

// Temperature returns the extruder and bed heater readings
func (c *Client) Temperature(ctx context.Context) (*models.Temperature, error) {
	objs, err := c.query(ctx, "temperature", "heater_bed", "extruder")
	if err != nil {
		return nil, err
	}
	temp := objs.temperature()
	if temp == nil {
		temp = &models.Temperature{}
	}
	return temp, nil
}

// Files lists the printer's gcodes root
func (c *Client) Files(ctx context.Context) ([]models.PrinterFile, error) {
	var entries []fileEntry
	if err := c.get(ctx, "files", "/server/files/list", &entries); err != nil {
		return nil, err
	}
	files := make([]models.PrinterFile, 0, len(entries))
	for _, e := range entries {
		files = append(files, e.model())
	}
	return files, nil
}

// HasFile reports whether name is already in the gcodes root
func (c *Client) HasFile(ctx context.Context, name string) (bool, error) {
	files, err := c.Files(ctx)
	if err != nil {
		return false, err
	}
	for _, f := range files {
		if f.Path == name {
			return true, nil
		}
	}
	return false, nil
}

// Status gathers info, print stats, temperatures and files. Any failure
// yields an offline status carrying the error.
func (c *Client) Status(ctx context.Context) (*models.PrinterStatus, error) {
	now := time.Now().UTC()

	info, err := c.Info(ctx)
	if err != nil {
		return models.OfflineStatus(err, now), err
	}
	ps, err := c.PrintStats(ctx)
	if err != nil {
		return models.OfflineStatus(err, now), err
	}
	temp, err := c.Temperature(ctx)
	if err != nil {
		return models.OfflineStatus(err, now), err
	}
	files, err := c.Files(ctx)
	if err != nil {
		return models.OfflineStatus(err, now), err
	}

	return &models.PrinterStatus{
		Online:      true,
		LastUpdate:  now,
		PrinterInfo: info,
		PrintStats:  ps,
		Temperature: temp,
		Files:       files,
	}, nil
}

// Upload sends a file to the printer's gcodes root
func (c *Client) Upload(ctx context.Context, filename string, content io.Reader) error {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		part, err := writer.CreateFormFile("file", filename)
		if err == nil {
			_, err = io.Copy(part, content)
		}
		if err == nil {
			err = writer.WriteField("root", "gcodes")
		}
		if err == nil {
			err = writer.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/server/files/upload", pr)
	if err != nil {
		pr.Close()
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	if err := c.do(ctx, "upload", c.uploadTimeout, req, nil); err != nil {
		pr.CloseWithError(err)
		c.logger.Warn("upload failed", "url", c.baseURL, "file", filename, "error", err)
		return err
	}
	return nil
}

// StartPrint starts printing a file from the gcodes root
func (c *Client) StartPrint(ctx context.Context, filename string) error {
	return c.post(ctx, "start", "/printer/print/start", map[string]string{"filename": filename})
}

// Pause pauses the current print
func (c *Client) Pause(ctx context.Context) error {
	return c.post(ctx, "pause", "/printer/print/pause", nil)
}

// Resume resumes a paused print
func (c *Client) Resume(ctx context.Context) error {
	return c.post(ctx, "resume", "/printer/print/resume", nil)
}

// Cancel cancels the current print
func (c *Client) Cancel(ctx context.Context) error {
	return c.post(ctx, "cancel", "/printer/print/cancel", nil)
}

// RunGcode executes a gcode script
func (c *Client) RunGcode(ctx context.Context, script string) error {
	return c.post(ctx, "gcode", "/printer/gcode/script", map[string]string{"script": script})
}

// LightLevel returns the red channel of the "led" object, 0..1
func (c *Client) LightLevel(ctx context.Context) (float64, error) {
	objs, err := c.query(ctx, "led", "led")
	if err != nil {
		return 0, err
	}
	return objs.LED.level(), nil
}

// ToggleLight switches the "led" object fully on or off and returns the
// new state, 1 for on and 0 for off
func (c *Client) ToggleLight(ctx context.Context) (int, error) {
	level, err := c.LightLevel(ctx)
	if err != nil {
		return 0, err
	}

	state := 1
	if level > 0 {
		state = 0
	}
	script := fmt.Sprintf("SET_LED LED=led RED=%d GREEN=%d BLUE=%d", state, state, state)
	if err := c.RunGcode(ctx, script); err != nil {
		return 0, err
	}
	return state, nil
}

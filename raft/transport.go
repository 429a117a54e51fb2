package raft

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Transport carries cluster membership requests between fleet servers over HTTP
type Transport struct {
	node   *Node
	client *http.Client
}

// NewTransport creates a new Transport
func NewTransport(node *Node) *Transport {
	return &Transport{
		node:   node,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type membershipRequest struct {
	NodeID   string `json:"node_id"`
	NodeAddr string `json:"node_addr,omitempty"`
}

// JoinCluster asks the server at joinAddr (its HTTP address) to add this node as a voter
func (t *Transport) JoinCluster(ctx context.Context, joinAddr, nodeID, raftAddr string) error {
	return t.post(ctx, joinAddr, "/raft/join", membershipRequest{NodeID: nodeID, NodeAddr: raftAddr})
}

// LeaveCluster asks the server at addr to remove nodeID from the cluster
func (t *Transport) LeaveCluster(ctx context.Context, addr, nodeID string) error {
	return t.post(ctx, addr, "/raft/leave", membershipRequest{NodeID: nodeID})
}

func (t *Transport) post(ctx context.Context, addr, path string, body membershipRequest) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(addr, "/")+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// RaftHandler returns an HTTP handler for cluster membership operations
func (t *Transport) RaftHandler() http.Handler {
	mux := http.NewServeMux()

	// Handler for joining the cluster
	mux.HandleFunc("/join", func(w http.ResponseWriter, r *http.Request) {
		req, ok := t.decode(w, r)
		if !ok {
			return
		}
		if req.NodeAddr == "" {
			http.Error(w, "node_addr is required", http.StatusBadRequest)
			return
		}

		if err := t.node.AddVoter(req.NodeID, req.NodeAddr); err != nil {
			t.fail(w, "add", err)
			return
		}

		t.node.logger.Info("node joined", "id", req.NodeID, "addr", req.NodeAddr)
		w.WriteHeader(http.StatusOK)
	})

	// Handler for leaving the cluster
	mux.HandleFunc("/leave", func(w http.ResponseWriter, r *http.Request) {
		req, ok := t.decode(w, r)
		if !ok {
			return
		}

		if err := t.node.RemoveServer(req.NodeID); err != nil {
			t.fail(w, "remove", err)
			return
		}

		t.node.logger.Info("node left", "id", req.NodeID)
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

func (t *Transport) decode(w http.ResponseWriter, r *http.Request) (membershipRequest, bool) {
	var req membershipRequest
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return req, false
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Failed to decode request: %v", err), http.StatusBadRequest)
		return req, false
	}
	if req.NodeID == "" {
		http.Error(w, "node_id is required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

func (t *Transport) fail(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, ErrNotLeader) {
		http.Error(w, fmt.Sprintf("Not the leader (leader: %s)", t.node.LeaderAddress()), http.StatusConflict)
		return
	}
	http.Error(w, fmt.Sprintf("Failed to %s node: %v", op, err), http.StatusInternalServerError)
}

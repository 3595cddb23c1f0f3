package chserver

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/chaoschain/chaoscore/chconsensus"
	"github.com/chaoschain/chaoscore/chengine"
	"github.com/chaoschain/chaoscore/chstore"
	"github.com/gorilla/mux"
)

// Upper bound on an encoded intent in a submission body.
const maxIntentBodySize = 1 << 20

// Most intents listed by /debug/pending_intents.
const maxPendingListed = 1000

type handler struct {
	log *slog.Logger
	cfg HTTPServerConfig
}

// StatusResponse is the JSON body of GET /status.
type StatusResponse struct {
	Height uint64 `json:"height"`
	Round  uint32 `json:"round"`
	Phase  string `json:"phase"`

	TipHeight uint64 `json:"tip_height"`
	TipHash   string `json:"tip_hash"`

	Voted          bool   `json:"voted"`
	VotedBlockHash string `json:"voted_block_hash,omitempty"`

	Equivocators []uint `json:"equivocators,omitempty"`
	Stalled      bool   `json:"stalled"`

	ConsecutiveRootMismatches int  `json:"consecutive_root_mismatches"`
	Desynchronized            bool `json:"desynchronized"`

	PendingIntents         int `json:"pending_intents"`
	BufferedFutureMessages int `json:"buffered_future_messages"`
}

func newStatusResponse(s chengine.Status) StatusResponse {
	return StatusResponse{
		Height: s.Height,
		Round:  s.Round,
		Phase:  s.Phase.String(),

		TipHeight: s.TipHeight,
		TipHash:   hex.EncodeToString(s.TipHash),

		Voted:          s.Voted,
		VotedBlockHash: hex.EncodeToString(s.VotedBlockHash),

		Equivocators: s.Equivocators,
		Stalled:      s.Stalled,

		ConsecutiveRootMismatches: s.ConsecutiveRootMismatches,
		Desynchronized:            s.Desynchronized,

		PendingIntents:         s.PendingIntents,
		BufferedFutureMessages: s.BufferedFutureMessages,
	}
}

// BlockResponse is the JSON body of the /blocks routes.
type BlockResponse struct {
	Height    uint64    `json:"height"`
	Hash      string    `json:"hash"`
	PrevHash  string    `json:"prev_hash"`
	StateRoot string    `json:"state_root"`
	Timestamp time.Time `json:"timestamp"`

	// Empty for the genesis block.
	Producer string `json:"producer,omitempty"`

	IntentIDs []string `json:"intent_ids"`

	Round   uint32 `json:"round"`
	Signers int    `json:"signers"`
}

// NewBlockResponse returns the JSON view of cb.
func NewBlockResponse(cb chconsensus.CommittedBlock) BlockResponse {
	b := cb.Block
	res := BlockResponse{
		Height:    b.Height,
		Hash:      hex.EncodeToString(b.Hash),
		PrevHash:  hex.EncodeToString(b.PrevHash),
		StateRoot: hex.EncodeToString(b.StateRoot),
		Timestamp: b.Timestamp,

		IntentIDs: make([]string, len(b.IntentIDs)),

		Round:   cb.Round,
		Signers: len(cb.Proof.Signatures),
	}
	if b.Producer != nil {
		res.Producer = hex.EncodeToString(b.Producer.PubKeyBytes())
	}
	for i, id := range b.IntentIDs {
		res.IntentIDs[i] = id.String()
	}
	return res
}

// IntentResponse is the JSON body of GET /intents/{id}.
type IntentResponse struct {
	ID        string `json:"id"`
	Submitter string `json:"submitter"`
	Nonce     uint64 `json:"nonce"`
	Payload   []byte `json:"payload"`

	// "pending" or "committed".
	Status string `json:"status"`

	// Set when committed.
	Height uint64 `json:"height,omitempty"`
}

func newIntentResponse(in chconsensus.Intent) IntentResponse {
	return IntentResponse{
		ID:        in.ID().String(),
		Submitter: hex.EncodeToString(in.Submitter.PubKeyBytes()),
		Nonce:     in.Nonce,
		Payload:   in.Payload,
	}
}

// SubmitResponse is the JSON body of a successful POST /intents.
type SubmitResponse struct {
	ID string `json:"id"`
}

func (h handler) HandleStatus(w http.ResponseWriter, req *http.Request) {
	s, err := h.cfg.Engine.Status(req.Context())
	if err != nil {
		if errors.Is(err, chengine.ErrStopped) {
			http.Error(w, "engine stopped", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, "status", http.StatusOK, newStatusResponse(s))
}

func (h handler) HandleTip(w http.ResponseWriter, req *http.Request) {
	cb, err := h.cfg.Chain.Tip(req.Context())
	if err != nil {
		if errors.Is(err, chstore.ErrEmpty) {
			http.Error(w, "no committed blocks", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, "tip", http.StatusOK, NewBlockResponse(cb))
}

func (h handler) HandleBlockAt(w http.ResponseWriter, req *http.Request) {
	height, err := strconv.ParseUint(mux.Vars(req)["height"], 10, 64)
	if err != nil {
		http.Error(w, "invalid height", http.StatusBadRequest)
		return
	}

	cb, err := h.cfg.Chain.BlockAt(req.Context(), height)
	if err != nil {
		if errors.Is(err, chstore.ErrHeightUnknown) {
			http.Error(w, fmt.Sprintf("height %d not committed", height), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, "block", http.StatusOK, NewBlockResponse(cb))
}

func (h handler) HandleIntent(w http.ResponseWriter, req *http.Request) {
	var id chconsensus.IntentID
	if _, err := hex.Decode(id[:], []byte(mux.Vars(req)["id"])); err != nil {
		http.Error(w, "invalid intent ID", http.StatusBadRequest)
		return
	}

	if h.cfg.Pending != nil {
		if in, ok := h.cfg.Pending.Get(id); ok {
			res := newIntentResponse(in)
			res.Status = "pending"
			h.writeJSON(w, "intent", http.StatusOK, res)
			return
		}
	}

	in, height, err := h.cfg.Chain.Intent(req.Context(), id)
	if err != nil {
		if errors.Is(err, chstore.ErrIntentUnknown) {
			http.Error(w, "intent not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	res := newIntentResponse(in)
	res.Status = "committed"
	res.Height = height
	h.writeJSON(w, "intent", http.StatusOK, res)
}

// HandleSubmitIntent accepts a codec-encoded intent as the request body.
func (h handler) HandleSubmitIntent(w http.ResponseWriter, req *http.Request) {
	defer req.Body.Close()

	b, err := io.ReadAll(io.LimitReader(req.Body, maxIntentBodySize+1))
	if err != nil {
		h.log.Warn("Failed to read request body", "route", "submit_intent", "err", err)
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if len(b) > maxIntentBodySize {
		http.Error(w, "intent too large", http.StatusRequestEntityTooLarge)
		return
	}

	var in chconsensus.Intent
	if err := h.cfg.Codec.UnmarshalIntent(b, &in); err != nil {
		http.Error(w, "failed to decode intent: "+err.Error(), http.StatusBadRequest)
		return
	}

	id, err := h.cfg.Submitter.Submit(req.Context(), in)
	if err != nil {
		switch {
		case errors.Is(err, chconsensus.ErrFull):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		case errors.Is(err, chconsensus.ErrDuplicate):
			http.Error(w, err.Error(), http.StatusConflict)
		case chconsensus.ClassOf(err) == chconsensus.AdmissionError:
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			h.log.Warn("Error attempting to submit intent", "route", "submit_intent", "err", err)
			http.Error(w, "internal error while attempting to submit intent", http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, "submit_intent", http.StatusAccepted, SubmitResponse{ID: id.String()})
}

func (h handler) HandlePendingIntents(w http.ResponseWriter, req *http.Request) {
	if h.cfg.Pending == nil {
		http.Error(w, "no mempool configured", http.StatusNotFound)
		return
	}

	ins := h.cfg.Pending.Drain(maxPendingListed)
	res := make([]IntentResponse, len(ins))
	for i, in := range ins {
		res[i] = newIntentResponse(in)
		res[i].Status = "pending"
	}

	h.writeJSON(w, "pending_intents", http.StatusOK, res)
}

func (h handler) writeJSON(w http.ResponseWriter, route string, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn("Failed to encode response", "route", route, "err", err)
	}
}

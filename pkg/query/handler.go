package query

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/jdugan/esdb/pkg/consolidate"
	"github.com/jdugan/esdb/pkg/httpx"
	"github.com/jdugan/esdb/pkg/inventory"
	"github.com/jdugan/esdb/pkg/storage"
)

// Handler serves the query endpoints.
type Handler struct {
	coord *Coordinator
}

// NewHandler creates a query handler.
func NewHandler(inv inventory.Resolver, store storage.StreamStore) *Handler {
	return &Handler{coord: NewCoordinator(inv, store)}
}

// selectRequest is the JSON body of POST /v1/select. GET uses query
// parameters of the same names.
type selectRequest struct {
	Device     string  `json:"device"`
	OIDSet     string  `json:"oidset"`
	OID        string  `json:"oid"`
	Begin      int64   `json:"begin_time"`
	End        int64   `json:"end_time"`
	Flags      uint32  `json:"flags"`
	CF         string  `json:"cf"`
	Resolution int64   `json:"resolution"`
	MaxRate    float64 `json:"max_rate"`
}

type selectResponse struct {
	Device     string               `json:"device"`
	OIDSet     string               `json:"oidset"`
	OID        string               `json:"oid"`
	CF         string               `json:"cf"`
	Resolution int64                `json:"resolution"`
	Buckets    []consolidate.Bucket `json:"data"`
}

// HandleSelect handles GET and POST /v1/select.
func (h *Handler) HandleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	switch r.Method {
	case http.MethodPost:
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
			return
		}
	case http.MethodGet:
		if err := parseSelectParams(r, &req); err != nil {
			httpx.RespondError(w, http.StatusBadRequest, err)
			return
		}
	default:
		httpx.RespondErrorString(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if req.Device == "" || req.OIDSet == "" || req.OID == "" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "device, oidset and oid are required")
		return
	}

	cf, err := consolidate.ParseFunc(req.CF)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	buckets, err := h.coord.Select(r.Context(), Request{
		Device:     req.Device,
		OIDSet:     req.OIDSet,
		OID:        req.OID,
		Begin:      req.Begin,
		End:        req.End,
		Flags:      req.Flags,
		Func:       cf,
		Resolution: req.Resolution,
		MaxRate:    req.MaxRate,
	})
	if err != nil {
		httpx.RespondError(w, statusFor(err), err)
		return
	}

	httpx.RespondJSON(w, http.StatusOK, selectResponse{
		Device:     req.Device,
		OIDSet:     req.OIDSet,
		OID:        req.OID,
		CF:         cf.String(),
		Resolution: req.Resolution,
		Buckets:    buckets,
	})
}

// HandleGrouping handles GET /v1/vars/grouping/{grouping}.
func (h *Handler) HandleGrouping(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.RespondErrorString(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req selectRequest
	if err := parseSelectParams(r, &req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	cf, err := consolidate.ParseFunc(req.CF)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	grouping := mux.Vars(r)["grouping"]
	results, err := h.coord.SelectGrouping(r.Context(), grouping, Request{
		Begin:      req.Begin,
		End:        req.End,
		Flags:      req.Flags,
		Func:       cf,
		Resolution: req.Resolution,
		MaxRate:    req.MaxRate,
	})
	if err != nil {
		httpx.RespondError(w, statusFor(err), err)
		return
	}

	httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"grouping": grouping,
		"cf":       cf.String(),
		"series":   results,
	})
}

func parseSelectParams(r *http.Request, req *selectRequest) error {
	q := r.URL.Query()
	req.Device = q.Get("device")
	req.OIDSet = q.Get("oidset")
	req.OID = q.Get("oid")
	req.CF = q.Get("cf")

	var err error
	if req.Begin, err = parseInt(q.Get("begin_time")); err != nil {
		return fmt.Errorf("invalid begin_time: %w", err)
	}
	if req.End, err = parseInt(q.Get("end_time")); err != nil {
		return fmt.Errorf("invalid end_time: %w", err)
	}
	if req.Resolution, err = parseInt(q.Get("resolution")); err != nil {
		return fmt.Errorf("invalid resolution: %w", err)
	}
	if v := q.Get("flags"); v != "" {
		f, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid flags: %w", err)
		}
		req.Flags = uint32(f)
	}
	if v := q.Get("max_rate"); v != "" {
		if req.MaxRate, err = strconv.ParseFloat(v, 64); err != nil {
			return fmt.Errorf("invalid max_rate: %w", err)
		}
	}
	return nil
}

func parseInt(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

// statusFor maps the boundary error back to an HTTP status. The cause is
// kept inside ESDBError precisely for this.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrUnknownStream):
		return http.StatusNotFound
	case isBadRequest(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func isBadRequest(err error) bool {
	var resErr *consolidate.InvalidResolutionError
	var fnErr *consolidate.InvalidFuncError
	return errors.As(err, &resErr) || errors.As(err, &fnErr) || errors.Is(err, errInvalidRange)
}

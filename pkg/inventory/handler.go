package inventory

import (
	"errors"
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"github.com/jdugan/esdb/pkg/httpx"
)

// Handler serves read-only inventory endpoints. Mutation happens through the
// seed file; the HTTP surface is for pollers and operators to inspect what
// the daemon knows about.
type Handler struct {
	inv *Inventory
}

func NewHandler(inv *Inventory) *Handler {
	return &Handler{inv: inv}
}

// HandleDevices handles GET /v1/devices.
func (h *Handler) HandleDevices(w http.ResponseWriter, r *http.Request) {
	devices := h.inv.Devices()
	sort.Slice(devices, func(i, j int) bool { return devices[i].Name < devices[j].Name })
	httpx.RespondJSON(w, http.StatusOK, devices)
}

// HandleDevice handles GET /v1/devices/{name}.
func (h *Handler) HandleDevice(w http.ResponseWriter, r *http.Request) {
	d, err := h.inv.Device(mux.Vars(r)["name"])
	if err != nil {
		httpx.RespondError(w, http.StatusNotFound, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, d)
}

// HandleOIDSets handles GET /v1/oidsets.
func (h *Handler) HandleOIDSets(w http.ResponseWriter, r *http.Request) {
	sets := h.inv.OIDSets()
	sort.Slice(sets, func(i, j int) bool { return sets[i].Name < sets[j].Name })
	httpx.RespondJSON(w, http.StatusOK, sets)
}

// HandleOIDs handles GET /v1/oids.
func (h *Handler) HandleOIDs(w http.ResponseWriter, r *http.Request) {
	oids := h.inv.OIDs()
	sort.Slice(oids, func(i, j int) bool { return oids[i].Name < oids[j].Name })
	httpx.RespondJSON(w, http.StatusOK, oids)
}

// HandleGrouping handles GET /v1/groupings/{name}.
func (h *Handler) HandleGrouping(w http.ResponseWriter, r *http.Request) {
	members, err := h.inv.Grouping(mux.Vars(r)["name"])
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrUnknownGrouping) {
			status = http.StatusNotFound
		}
		httpx.RespondError(w, status, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, members)
}

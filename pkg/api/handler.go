package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/censys/scandiff/pkg/dal"
	"github.com/censys/scandiff/pkg/diff"
	"github.com/censys/scandiff/pkg/processor"
	"github.com/censys/scandiff/pkg/service"
	"github.com/censys/scandiff/pkg/snapshot"
)

// maxUploadBytes bounds a single uploaded snapshot file.
const maxUploadBytes = 10 << 20

// Snapshots is the behavior the handlers need; *service.Service satisfies it.
type Snapshots interface {
	Ingest(ctx context.Context, name string, data []byte) ([]*snapshot.Snapshot, error)
	Get(ctx context.Context, id int64) (*snapshot.Snapshot, error)
	ListHosts(ctx context.Context) ([]dal.HostSummary, error)
	ListByHost(ctx context.Context, host string) ([]*snapshot.Snapshot, error)
	Diff(ctx context.Context, firstID, secondID int64) (*diff.DiffReport, error)
	Latest(ctx context.Context, host string) (*diff.DiffReport, error)
}

var _ Snapshots = (*service.Service)(nil)

// Handler serves the snapshot and diff endpoints.
type Handler struct {
	svc Snapshots
	log logrus.FieldLogger
}

// NewHandler creates a Handler.
func NewHandler(svc Snapshots, log logrus.FieldLogger) *Handler {
	return &Handler{svc: svc, log: log}
}

type uploadedSnapshot struct {
	ID        int64  `json:"id"`
	IP        string `json:"ip"`
	Timestamp string `json:"timestamp"`
	Services  int    `json:"service_count"`
}

// Upload stores the multipart "file" field, a .json snapshot or an nmap .xml report.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	if _, err := processor.DetectFormat(header.Filename); err != nil {
		writeError(w, http.StatusBadRequest, "only .json snapshot or .xml nmap files are allowed")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file")
		return
	}

	stored, err := h.svc.Ingest(r.Context(), header.Filename, data)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	out := make([]uploadedSnapshot, 0, len(stored))
	for _, s := range stored {
		out = append(out, uploadedSnapshot{
			ID:        s.ID,
			IP:        s.Host,
			Timestamp: s.Timestamp.Format(time.RFC3339),
			Services:  len(s.Services),
		})
	}
	writeJSONStatus(w, http.StatusCreated, map[string]interface{}{
		"message":   "snapshot uploaded successfully",
		"snapshots": out,
	})
}

// GetSnapshot returns one stored snapshot.
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	snap, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, snap)
}

// ListHosts returns every host with stored snapshots.
func (h *Handler) ListHosts(w http.ResponseWriter, r *http.Request) {
	hosts, err := h.svc.ListHosts(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]interface{}{"hosts": hosts})
}

// ListSnapshots returns a host's snapshots, oldest first.
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	ip, ok := pathIP(w, r)
	if !ok {
		return
	}
	snaps, err := h.svc.ListByHost(r.Context(), ip)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]interface{}{"snapshots": snaps})
}

// LatestDiff compares a host's two most recent snapshots.
func (h *Handler) LatestDiff(w http.ResponseWriter, r *http.Request) {
	ip, ok := pathIP(w, r)
	if !ok {
		return
	}
	report, err := h.svc.Latest(r.Context(), ip)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, report)
}

// Diff compares two stored snapshots given in either order.
func (h *Handler) Diff(w http.ResponseWriter, r *http.Request) {
	oldID, ok := pathID(w, r, "oldId")
	if !ok {
		return
	}
	newID, ok := pathID(w, r, "newId")
	if !ok {
		return
	}
	report, err := h.svc.Diff(r.Context(), oldID, newID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, report)
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// fail maps domain errors onto HTTP statuses.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, dal.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dal.ErrConflict):
		return http.StatusConflict
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, processor.ErrMalformed),
		errors.Is(err, snapshot.ErrInvalid),
		errors.Is(err, diff.ErrInvalidInput),
		errors.Is(err, service.ErrHostMismatch),
		errors.Is(err, service.ErrNotEnoughSnapshots):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid snapshot id: "+r.PathValue(name))
		return 0, false
	}
	return id, true
}

func pathIP(w http.ResponseWriter, r *http.Request) (string, bool) {
	addr, err := netip.ParseAddr(r.PathValue("ip"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid IP address")
		return "", false
	}
	return addr.String(), true
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logrus.WithError(err).Warn("failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONStatus(w, status, map[string]string{"error": msg})
}

// Package admin is the thin, deliberately unauthenticated wiring surface
// SPEC_FULL.md §C calls out as a stand-in for the real REST admin API
// (explicitly out of scope per spec.md §1): a plain net/http mux exposing
// the repository contract of spec.md §4.1/§6 so the end-to-end scenarios
// of §8 are exercisable without a database client. It mirrors the
// teacher's `net/http` service-CRUD mux in cmd/controlplane/main.go
// (method-pattern routes, one handler func per verb, JSON request/response
// bodies) generalized from one resource family to the full tenant model.
//
// No authn/authz, no OpenAPI import parsing beyond accepting an
// already-normalized plan, no schema-learning: those remain external
// collaborators per spec.md §1.
package admin

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/rajeevramani/flowplane/internal/errs"
	"github.com/rajeevramani/flowplane/internal/model"
	"github.com/rajeevramani/flowplane/internal/secretcrypto"
	"github.com/rajeevramani/flowplane/internal/store"
)

// Server holds the dependencies every admin handler needs: the repository
// layer for reads/writes, the sealer for inline secret encryption (nil
// disables inline secrets), and a named logger.
type Server struct {
	store  *store.Store
	sealer *secretcrypto.Sealer
	log    *zap.SugaredLogger
}

// New builds an admin Server. sealer may be nil; POSTs for inline secrets
// then fail with errs.Validation instead of panicking.
func New(s *store.Store, sealer *secretcrypto.Sealer, log *zap.Logger) *Server {
	return &Server{store: s, sealer: sealer, log: log.Named("admin").Sugar()}
}

// Mux builds the ServeMux for every admin route. cmd/controlplane wires
// this directly onto an http.Server.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /teams", s.createTeam)
	mux.HandleFunc("GET /teams", s.listTeams)

	mux.HandleFunc("POST /clusters", s.createCluster)
	mux.HandleFunc("GET /clusters", s.listClusters)
	mux.HandleFunc("PUT /clusters/{name}", s.updateCluster)
	mux.HandleFunc("DELETE /clusters/{name}", s.deleteCluster)

	mux.HandleFunc("POST /route-configurations", s.createRouteConfig)
	mux.HandleFunc("GET /route-configurations", s.listRouteConfigs)
	mux.HandleFunc("PUT /route-configurations/{name}", s.updateRouteConfig)
	mux.HandleFunc("DELETE /route-configurations/{name}", s.deleteRouteConfig)

	mux.HandleFunc("POST /listeners", s.createListener)
	mux.HandleFunc("GET /listeners", s.listListeners)
	mux.HandleFunc("PUT /listeners/{name}", s.updateListener)
	mux.HandleFunc("DELETE /listeners/{name}", s.deleteListener)

	mux.HandleFunc("POST /filters", s.createFilter)
	mux.HandleFunc("POST /filters/{id}/attachments", s.attachFilter)
	mux.HandleFunc("DELETE /filter-attachments/{id}", s.detachFilter)

	mux.HandleFunc("POST /secrets", s.createSecret)
	mux.HandleFunc("GET /secrets", s.listSecrets)
	mux.HandleFunc("DELETE /secrets/{id}", s.deleteSecret)

	mux.HandleFunc("POST /imports", s.createImport)
	mux.HandleFunc("DELETE /imports/{id}", s.deleteImport)

	mux.HandleFunc("GET /nacks", s.listNacks)

	return mux
}

// --- error/JSON plumbing ---

// errorResponse is the structured error body SPEC_FULL.md §7 requires:
// an error-kind discriminator plus a human-readable message.
type errorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	kind := errs.Kind(err)
	status := http.StatusInternalServerError
	label := "internal"
	switch {
	case errors.Is(kind, errs.Validation):
		status, label = http.StatusBadRequest, "validation"
	case errors.Is(kind, errs.Conflict):
		status, label = http.StatusConflict, "conflict"
	case errors.Is(kind, errs.NotFound):
		status, label = http.StatusNotFound, "not_found"
	case errors.Is(kind, errs.Backend):
		status, label = http.StatusServiceUnavailable, "backend"
	}
	writeJSON(w, status, errorResponse{Kind: label, Message: err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Kind: "validation", Message: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

// --- Teams ---

type teamRequest struct {
	Name           string `json:"name"`
	Organization   string `json:"organization"`
	EnvoyAdminPort *int32 `json:"envoy_admin_port,omitempty"`
}

func (s *Server) createTeam(w http.ResponseWriter, r *http.Request) {
	var req teamRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	team, err := s.store.Teams.Create(r.Context(), model.Team{
		Name: req.Name, Organization: req.Organization, EnvoyAdminPort: req.EnvoyAdminPort,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, team)
}

func (s *Server) listTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := s.store.Teams.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, teams)
}

// --- Clusters ---

type clusterRequest struct {
	Name        string                   `json:"name"`
	ServiceName string                   `json:"service_name"`
	ConfigJSON  json.RawMessage          `json:"config"`
	TeamID      *string                  `json:"team_id,omitempty"`
	Endpoints   []model.ClusterEndpoint `json:"endpoints,omitempty"`
}

func (s *Server) createCluster(w http.ResponseWriter, r *http.Request) {
	var req clusterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := s.store.Clusters.Create(r.Context(), model.Cluster{
		Name: req.Name, ServiceName: req.ServiceName, ConfigJSON: req.ConfigJSON, TeamID: req.TeamID,
	}, req.Endpoints)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) listClusters(w http.ResponseWriter, r *http.Request) {
	teams, includeGlobals, limit, offset := teamQuery(r)
	rows, err := s.store.Clusters.ListByTeams(r.Context(), teams, includeGlobals, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) updateCluster(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req struct {
		ServiceName string          `json:"service_name"`
		ConfigJSON  json.RawMessage `json:"config"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := s.store.Clusters.UpdateByName(r.Context(), name, req.ConfigJSON, req.ServiceName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) deleteCluster(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Clusters.DeleteByName(r.Context(), r.PathValue("name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Route configurations ---

type routeConfigRequest struct {
	Name          string                    `json:"name"`
	ConfigJSON    json.RawMessage           `json:"config"`
	TeamID        *string                   `json:"team_id,omitempty"`
	VirtualHosts  []model.VirtualHost       `json:"virtual_hosts"`
	RoutesByVHost map[string][]model.Route  `json:"routes_by_vhost"`
}

func (s *Server) createRouteConfig(w http.ResponseWriter, r *http.Request) {
	var req routeConfigRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rc, err := s.store.Routes.CreateWithChildren(r.Context(), model.RouteConfiguration{
		Name: req.Name, ConfigJSON: req.ConfigJSON, TeamID: req.TeamID,
	}, req.VirtualHosts, req.RoutesByVHost)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rc)
}

func (s *Server) listRouteConfigs(w http.ResponseWriter, r *http.Request) {
	teams, includeGlobals, limit, offset := teamQuery(r)
	rows, err := s.store.Routes.ListByTeams(r.Context(), teams, includeGlobals, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) updateRouteConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConfigJSON json.RawMessage `json:"config"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	rc, err := s.store.Routes.UpdateConfig(r.Context(), r.PathValue("name"), req.ConfigJSON)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rc)
}

func (s *Server) deleteRouteConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Routes.DeleteByName(r.Context(), r.PathValue("name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Listeners ---

type listenerRequest struct {
	Name           string          `json:"name"`
	Address        string          `json:"address"`
	Port           *int32          `json:"port,omitempty"`
	Protocol       model.Protocol  `json:"protocol,omitempty"`
	ConfigJSON     json.RawMessage `json:"config"`
	TeamID         *string         `json:"team_id,omitempty"`
	RouteConfigIDs []string        `json:"route_config_ids,omitempty"`
}

func (s *Server) createListener(w http.ResponseWriter, r *http.Request) {
	var req listenerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	l, err := s.store.Listeners.Create(r.Context(), model.Listener{
		Name: req.Name, Address: req.Address, Port: req.Port, Protocol: req.Protocol,
		ConfigJSON: req.ConfigJSON, TeamID: req.TeamID,
	}, req.RouteConfigIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

func (s *Server) listListeners(w http.ResponseWriter, r *http.Request) {
	teams, includeGlobals, limit, offset := teamQuery(r)
	rows, err := s.store.Listeners.ListByTeams(r.Context(), teams, includeGlobals, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) updateListener(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConfigJSON json.RawMessage `json:"config"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	l, err := s.store.Listeners.UpdateConfig(r.Context(), r.PathValue("name"), req.ConfigJSON)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) deleteListener(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Listeners.DeleteByName(r.Context(), r.PathValue("name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Filters ---

type filterRequest struct {
	Name       string          `json:"name"`
	Kind       string          `json:"kind"`
	ConfigJSON json.RawMessage `json:"config"`
	TeamID     string          `json:"team_id"`
}

func (s *Server) createFilter(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	f, err := s.store.Filters.Create(r.Context(), model.Filter{
		Name: req.Name, Kind: req.Kind, ConfigJSON: req.ConfigJSON, TeamID: req.TeamID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

type attachRequest struct {
	Level           model.AttachmentLevel `json:"level"`
	RouteConfigID   string                `json:"route_config_id"`
	VirtualHostID   string                `json:"virtual_host_id,omitempty"`
	RouteID         string                `json:"route_id,omitempty"`
	FilterOrder     int32                 `json:"filter_order"`
	Behavior        model.Behavior        `json:"behavior"`
	OverrideJSON    json.RawMessage       `json:"override_config,omitempty"`
	RequirementName string                `json:"requirement_name,omitempty"`
}

func (s *Server) attachFilter(w http.ResponseWriter, r *http.Request) {
	var req attachRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	a, err := s.store.Filters.Attach(r.Context(), model.FilterAttachment{
		FilterID: r.PathValue("id"), Level: req.Level, RouteConfigID: req.RouteConfigID,
		VirtualHostID: req.VirtualHostID, RouteID: req.RouteID, FilterOrder: req.FilterOrder,
		Behavior: req.Behavior, OverrideJSON: req.OverrideJSON, RequirementName: req.RequirementName,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) detachFilter(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Filters.Detach(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Secrets ---

type secretRequest struct {
	Name        string           `json:"name"`
	TeamID      string           `json:"team_id"`
	SecretType  model.SecretType `json:"secret_type"`
	Backend     model.SecretBackend `json:"backend,omitempty"`
	InlineValue string           `json:"inline_value,omitempty"` // base64, plaintext before encryption
	Reference   string           `json:"reference,omitempty"`
}

func (s *Server) createSecret(w http.ResponseWriter, r *http.Request) {
	var req secretRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sec := model.Secret{Name: req.Name, TeamID: req.TeamID, SecretType: req.SecretType, Backend: req.Backend, Reference: req.Reference}
	if req.Backend == model.BackendInline {
		if s.sealer == nil {
			writeError(w, errValidation("secret encryption is not configured; set FLOWPLANE_SECRET_ENCRYPTION_KEY"))
			return
		}
		plaintext, err := base64.StdEncoding.DecodeString(req.InlineValue)
		if err != nil {
			writeError(w, errValidation("inline_value must be base64"))
			return
		}
		sealed, err := s.sealer.Seal(plaintext)
		if err != nil {
			writeError(w, err)
			return
		}
		sec.EncryptedValue = sealed
	}
	created, err := s.store.Secrets.Create(r.Context(), sec)
	if err != nil {
		writeError(w, err)
		return
	}
	created.EncryptedValue = nil // never echo ciphertext back
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) listSecrets(w http.ResponseWriter, r *http.Request) {
	teamID := r.URL.Query().Get("team_id")
	if teamID == "" {
		writeError(w, errValidation("team_id query parameter is required"))
		return
	}
	rows, err := s.store.Secrets.ListByTeam(r.Context(), teamID)
	if err != nil {
		writeError(w, err)
		return
	}
	for i := range rows {
		rows[i].EncryptedValue = nil
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) deleteSecret(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Secrets.DeleteByID(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Imports ---

func (s *Server) createImport(w http.ResponseWriter, r *http.Request) {
	var plan store.ImportPlan
	if !decodeJSON(w, r, &plan) {
		return
	}
	meta, err := s.store.Imports.Create(r.Context(), plan)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, meta)
}

func (s *Server) deleteImport(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Imports.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- NACK events ---

func (s *Server) listNacks(w http.ResponseWriter, r *http.Request) {
	teamID := r.URL.Query().Get("team_id")
	if teamID == "" {
		writeError(w, errValidation("team_id query parameter is required"))
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	rows, err := s.store.Nacks.ListByTeam(r.Context(), teamID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// --- shared query helpers ---

// teamQuery parses the ?team=&include_globals=&limit=&offset= query
// parameters shared by every list endpoint.
func teamQuery(r *http.Request) (teams []string, includeGlobals bool, limit, offset int) {
	q := r.URL.Query()
	if t := q.Get("team"); t != "" {
		teams = []string{t}
	}
	includeGlobals = q.Get("include_globals") != "false"
	limit = 100
	if v := q.Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if v := q.Get("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return teams, includeGlobals, limit, offset
}

func errValidation(msg string) error {
	return &validationError{msg: msg}
}

type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }
func (e *validationError) Unwrap() error  { return errs.Validation }

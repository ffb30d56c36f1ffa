// Package model defines the domain entities of SPEC_FULL.md §3 as they are
// shaped once loaded from the repository layer: Team, Cluster and its
// endpoints, RouteConfiguration with its VirtualHosts and Routes, Listener
// and its route bindings, Filter and its per-scope attachments, listener
// auto-filter bookkeeping rows, import metadata and cluster references,
// Secret, configuration version counters, and NACK events.
package model

import "time"

// TeamStatus is the lifecycle state of a Team.
type TeamStatus string

const (
	TeamActive   TeamStatus = "active"
	TeamInactive TeamStatus = "inactive"
	TeamArchived TeamStatus = "archived"
)

// Team is the tenant boundary. Its stable Id never changes; Name is unique
// only within its Organization.
type Team struct {
	ID              string
	Name            string
	Organization    string
	Status          TeamStatus
	EnvoyAdminPort  *int32
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Source records whether a resource originated from the native admin API or
// from an OpenAPI import.
type Source string

const (
	SourceNativeAPI      Source = "native_api"
	SourceOpenAPIImport  Source = "openapi_import"
)

// Cluster is an upstream pool (Envoy Cluster / CDS).
type Cluster struct {
	ID          string
	Name        string
	ServiceName string
	ConfigJSON  []byte
	Version     int64
	Source      Source
	TeamID      *string
	ImportID    *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ClusterEndpoint denormalizes a cluster's load assignment for queryable
// health/weight updates. Unique per (ClusterID, Address, Port).
type ClusterEndpoint struct {
	ID           string
	ClusterID    string
	Address      string
	Port         int32
	Weight       int32
	Priority     int32
	HealthStatus string
	MetadataJSON []byte
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RouteConfiguration is a top-level Envoy RouteConfiguration (RDS).
type RouteConfiguration struct {
	ID         string
	Name       string
	ConfigJSON []byte
	Version    int64
	Source     Source
	TeamID     *string
	ImportID   *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// VirtualHost is a child of a RouteConfiguration.
type VirtualHost struct {
	ID            string
	RouteConfigID string
	Name          string
	Domains       []string
	Position      int32
}

// MatchType enumerates the ways a Route can match a request path.
type MatchType string

const (
	MatchPrefix       MatchType = "prefix"
	MatchExact        MatchType = "exact"
	MatchRegex        MatchType = "regex"
	MatchPathTemplate MatchType = "path_template"
	MatchConnect      MatchType = "connect_matcher"
)

// Route is a child rule of a VirtualHost. Name is required: filter
// attachments reference rules by name, so unnamed source rules must be
// auto-named deterministically from their match (see autoRouteName in
// internal/store/routes.go).
type Route struct {
	ID            string
	VirtualHostID string
	Name          string
	MatchType     MatchType
	PathPattern   string
	ClusterName   string
	Order         int32
}

// Protocol is the listener's L4 protocol.
type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// Listener is an Envoy Listener (LDS).
type Listener struct {
	ID              string
	Name            string
	Address         string
	Port            *int32
	Protocol        Protocol
	ConfigJSON      []byte
	Version         int64
	Source          Source
	TeamID          *string
	DataplaneBinding *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ListenerRouteBinding normalizes listener<->route-config linkage.
type ListenerRouteBinding struct {
	ID            string
	ListenerID    string
	RouteConfigID string
	Order         int32
}

// Filter is a named, team-scoped filter definition. Kind is open (not a
// closed enum) at the storage layer: any string is stored. The builder
// recognizes only "local_rate_limit", "jwt_auth", "header_mutation" and
// "ext_authz", and fails the build for any other kind that is attached.
type Filter struct {
	ID         string
	Name       string
	Kind       string
	ConfigJSON []byte
	Version    int64
	TeamID     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AttachmentLevel is the scope at which a Filter is attached.
type AttachmentLevel string

const (
	LevelRouteConfig AttachmentLevel = "route_config"
	LevelVirtualHost AttachmentLevel = "virtual_host"
	LevelRoute       AttachmentLevel = "route"
)

// Behavior is how a scope's settings modify the inherited filter config.
type Behavior string

const (
	BehaviorUseBase  Behavior = "use_base"
	BehaviorDisable  Behavior = "disable"
	BehaviorOverride Behavior = "override"
)

// FilterAttachment binds a Filter to a route-config, virtual-host, or route
// scope. Exactly one of RouteConfigID/VirtualHostID/RouteID is the "anchor"
// appropriate to Level; the others are unused for that row.
type FilterAttachment struct {
	ID              string
	FilterID        string
	Level           AttachmentLevel
	RouteConfigID   string
	VirtualHostID   string
	RouteID         string
	FilterOrder     int32
	Behavior        Behavior
	OverrideJSON    []byte
	RequirementName string
}

// ListenerAutoFilter records that an HTTP filter was auto-inserted into a
// listener's filter chain because a Filter was attached at some scope under
// a route bound to that listener. Exactly one of VirtualHostID/RouteID is
// set, matching Level: route_config -> neither, virtual_host -> vhost id
// only, route -> route id only.
type ListenerAutoFilter struct {
	ID              string
	ListenerID      string
	HTTPFilterName  string
	SourceFilterID  string
	RouteConfigID   string
	Level           AttachmentLevel
	VirtualHostID   string
	RouteID         string
}

// ImportMetadata is one row per OpenAPI import.
type ImportMetadata struct {
	ID           string
	Name         string
	Version      string
	Checksum     string
	TeamID       string
	SourceSpec   []byte
	ListenerName *string
	CreatedAt    time.Time
}

// ClusterReference is the multi-import dedup counter for a cluster.
type ClusterReference struct {
	ClusterID  string
	ImportID   string
	RouteCount int32
}

// SecretBackend names an external secret store; empty means inline.
type SecretBackend string

const (
	BackendInline  SecretBackend = ""
	BackendVault   SecretBackend = "vault"
	BackendAWS     SecretBackend = "aws_secrets_manager"
	BackendGCP     SecretBackend = "gcp_secret_manager"
)

// SecretType enumerates the kinds of SDS secrets.
type SecretType string

const (
	SecretGeneric              SecretType = "generic_secret"
	SecretTLSCertificate       SecretType = "tls_certificate"
	SecretValidationContext    SecretType = "certificate_validation_context"
	SecretSessionTicketKeys    SecretType = "session_ticket_keys"
)

// Secret is a named, team-scoped SDS secret, either an encrypted inline
// value or a reference to an external backend.
type Secret struct {
	ID              string
	Name            string
	TeamID          string
	SecretType      SecretType
	Backend         SecretBackend
	EncryptedValue  []byte // set iff Backend == BackendInline
	Reference       string // set iff Backend != BackendInline
	Version         int64
	ExpiresAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ResourceType is one of the five xDS resource families that carry their
// own monotonic version counter.
type ResourceType string

const (
	ResourceCluster  ResourceType = "cluster"
	ResourceRoute    ResourceType = "route"
	ResourceListener ResourceType = "listener"
	ResourceEndpoint ResourceType = "endpoint"
	ResourceSecret   ResourceType = "secret"
)

// NackEvent is a persistent log of an Envoy-rejected update.
type NackEvent struct {
	ID                string
	TeamID            string
	DataplaneName     string
	TypeURL           string
	RejectedVersion   string
	Nonce             string
	ErrorCode         int32
	ErrorMessage      string
	NodeID            string
	RejectedResources []string
	CreatedAt         time.Time
}

// WatchMarker is the change-detection signal a watcher compares across
// ticks for a given (team, resource type).
type WatchMarker struct {
	RowCount  int64
	MaxUpdatedAt time.Time
}

// Changed reports whether m differs from prev.
func (m WatchMarker) Changed(prev WatchMarker) bool {
	return m.RowCount != prev.RowCount || !m.MaxUpdatedAt.Equal(prev.MaxUpdatedAt)
}

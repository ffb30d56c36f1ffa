package xds

import (
	"context"

	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	discoverygrpc "github.com/envoyproxy/go-control-plane/envoy/service/discovery/v3"

	"github.com/rajeevramani/flowplane/internal/cache"
)

// sotwStream is the method set shared by every generated SotW service
// stream (ADS and each per-type LDS/RDS/CDS/EDS/SDS stream): they all
// carry the same discovery.v3.DiscoveryRequest/DiscoveryResponse pair, so
// one session implementation serves all six gRPC methods.
type sotwStream interface {
	Send(*discoverygrpc.DiscoveryResponse) error
	Recv() (*discoverygrpc.DiscoveryRequest, error)
	Context() context.Context
}

// sotwSession owns the per-stream state for one State-of-the-World
// connection (SPEC_FULL.md §4.5). pinnedTypes is nil for ADS, where any
// type URL the client mentions gets a tracker; for a per-type service it
// is the single allowed type URL.
type sotwSession struct {
	srv         *Server
	stream      sotwStream
	pinnedTypes map[string]bool
	nodeID      string
	team        string
	trackers    map[string]*typeTracker
}

func newSotwSession(srv *Server, stream sotwStream, pinned []string) *sotwSession {
	var pinnedSet map[string]bool
	if len(pinned) > 0 {
		pinnedSet = make(map[string]bool, len(pinned))
		for _, t := range pinned {
			pinnedSet[t] = true
		}
	}
	return &sotwSession{
		srv:         srv,
		stream:      stream,
		pinnedTypes: pinnedSet,
		team:        srv.cfg.DefaultTeam,
		trackers:    map[string]*typeTracker{},
	}
}

func (s *sotwSession) run() error {
	ctx := s.stream.Context()

	bumps, unsubscribe := s.srv.cache.Subscribe()
	defer unsubscribe()

	reqCh := make(chan *discoverygrpc.DiscoveryRequest)
	errCh := make(chan error, 1)
	go func() {
		for {
			req, err := s.stream.Recv()
			if err != nil {
				errCh <- err
				return
			}
			select {
			case reqCh <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return wrapTransportErr(err)
		case req := <-reqCh:
			if err := s.handleRequest(req); err != nil {
				return err
			}
			if err := s.pushDue(); err != nil {
				return err
			}
		case b := <-bumps:
			if s.relevant(b) {
				if err := s.pushDue(); err != nil {
					return err
				}
			}
		}
	}
}

// relevant reports whether a cache bump could possibly affect this
// session: either it's the session's own team, or it's the global slot
// (visible to every team).
func (s *sotwSession) relevant(b cache.Bump) bool {
	return b.Team == s.team || b.Team == ""
}

func (s *sotwSession) typeAllowed(typeURL string) bool {
	if s.pinnedTypes == nil {
		return true
	}
	return s.pinnedTypes[typeURL]
}

func (s *sotwSession) trackerFor(typeURL string) *typeTracker {
	t, ok := s.trackers[typeURL]
	if !ok {
		t = newTypeTracker(typeURL)
		s.trackers[typeURL] = t
	}
	return t
}

func (s *sotwSession) handleRequest(req *discoverygrpc.DiscoveryRequest) error {
	typeURL := req.GetTypeUrl()
	if typeURL == "" && s.pinnedTypes != nil && len(s.pinnedTypes) == 1 {
		for t := range s.pinnedTypes {
			typeURL = t
		}
	}
	if !s.typeAllowed(typeURL) {
		return nil
	}
	if req.GetNode() != nil {
		s.captureNode(req.GetNode())
	}

	tracker := s.trackerFor(typeURL)

	if tracker.lastSentNonce != "" && req.GetResponseNonce() == tracker.lastSentNonce {
		if req.GetErrorDetail() != nil {
			s.srv.recordNack(s.team, s.nodeID, typeURL, tracker.lastSentVersion, req.GetResponseNonce(),
				req.GetErrorDetail().GetCode(), req.GetErrorDetail().GetMessage(), req.GetResourceNames())
		} else {
			tracker.lastAckedVersion = req.GetVersionInfo()
		}
		tracker.pendingAck = false
		return nil
	}

	if tracker.applySotWSubscription(req.GetResourceNames()) {
		tracker.subsDirty = true
	}
	return nil
}

func (s *sotwSession) captureNode(node *corev3.Node) {
	s.nodeID = node.GetId()
	s.team = teamFromNode(node, s.srv.cfg.TeamMetadataKey, s.srv.cfg.DefaultTeam)
}

// pushDue walks every tracked type in canonical order and sends a fresh
// SotW response for any whose cache version or subscription changed and
// that isn't still waiting on an ACK/NACK for its last send.
func (s *sotwSession) pushDue() error {
	for _, typeURL := range canonicalOrder {
		tracker, ok := s.trackers[typeURL]
		if !ok {
			continue
		}
		if err := s.maybeSend(tracker); err != nil {
			return err
		}
	}
	return nil
}

func (s *sotwSession) maybeSend(tracker *typeTracker) error {
	if tracker.pendingAck {
		return nil
	}
	snap, ok := s.srv.cache.Get(s.team, tracker.typeURL)
	version := "0"
	if ok {
		version = snap.Version
	}
	if version == tracker.lastSentVersion && !tracker.subsDirty {
		return nil
	}

	filtered := filterBySubscription(snap.Resources, tracker)
	resAny, err := toAny(filtered)
	if err != nil {
		return wrapTransportErr(err)
	}

	nonce := tracker.nextNonce()
	resp := &discoverygrpc.DiscoveryResponse{
		VersionInfo: version,
		Resources:   resAny,
		TypeUrl:     tracker.typeURL,
		Nonce:       nonce,
	}
	if err := s.stream.Send(resp); err != nil {
		return wrapTransportErr(err)
	}
	tracker.lastSentVersion = version
	tracker.lastSentNonce = nonce
	tracker.pendingAck = true
	tracker.subsDirty = false
	return nil
}

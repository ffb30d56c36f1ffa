package xds

import (
	"context"

	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	discoverygrpc "github.com/envoyproxy/go-control-plane/envoy/service/discovery/v3"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
)

// deltaStream is the method set shared by every generated Delta service
// stream, mirroring sotwStream for the incremental request/response pair.
type deltaStream interface {
	Send(*discoverygrpc.DeltaDiscoveryResponse) error
	Recv() (*discoverygrpc.DeltaDiscoveryRequest, error)
	Context() context.Context
}

// deltaSession is the Delta-xDS counterpart of sotwSession.
type deltaSession struct {
	srv         *Server
	stream      deltaStream
	pinnedTypes map[string]bool
	nodeID      string
	team        string
	trackers    map[string]*typeTracker
}

func newDeltaSession(srv *Server, stream deltaStream, pinned []string) *deltaSession {
	var pinnedSet map[string]bool
	if len(pinned) > 0 {
		pinnedSet = make(map[string]bool, len(pinned))
		for _, t := range pinned {
			pinnedSet[t] = true
		}
	}
	return &deltaSession{
		srv:         srv,
		stream:      stream,
		pinnedTypes: pinnedSet,
		team:        srv.cfg.DefaultTeam,
		trackers:    map[string]*typeTracker{},
	}
}

func (s *deltaSession) run() error {
	ctx := s.stream.Context()

	bumps, unsubscribe := s.srv.cache.Subscribe()
	defer unsubscribe()

	reqCh := make(chan *discoverygrpc.DeltaDiscoveryRequest)
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
			if b.Team == s.team || b.Team == "" {
				if err := s.pushDue(); err != nil {
					return err
				}
			}
		}
	}
}

func (s *deltaSession) typeAllowed(typeURL string) bool {
	if s.pinnedTypes == nil {
		return true
	}
	return s.pinnedTypes[typeURL]
}

func (s *deltaSession) trackerFor(typeURL string) *typeTracker {
	t, ok := s.trackers[typeURL]
	if !ok {
		t = newTypeTracker(typeURL)
		t.sentVersions = map[string]string{}
		s.trackers[typeURL] = t
	}
	return t
}

func (s *deltaSession) handleRequest(req *discoverygrpc.DeltaDiscoveryRequest) error {
	typeURL := req.GetTypeUrl()
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
				req.GetErrorDetail().GetCode(), req.GetErrorDetail().GetMessage(), tracker.sentResourceNames())
		} else {
			tracker.lastAckedVersion = tracker.lastSentVersion
		}
		tracker.pendingAck = false
		return nil
	}

	// initial_resource_versions present (even empty) means the client is
	// (re)establishing its view of this type from scratch: recompute the
	// diff against exactly what it says it already has, per the documented
	// resolution of the open question in SPEC_FULL.md §9.
	if req.GetInitialResourceVersions() != nil {
		tracker.sentVersions = make(map[string]string, len(req.GetInitialResourceVersions()))
		for name, version := range req.GetInitialResourceVersions() {
			tracker.sentVersions[name] = version
		}
		tracker.subsDirty = true
	}

	if tracker.applyDeltaSubscription(req.GetResourceNamesSubscribe(), req.GetResourceNamesUnsubscribe()) {
		tracker.subsDirty = true
	}
	return nil
}

func (s *deltaSession) captureNode(node *corev3.Node) {
	s.nodeID = node.GetId()
	s.team = teamFromNode(node, s.srv.cfg.TeamMetadataKey, s.srv.cfg.DefaultTeam)
}

func (s *deltaSession) pushDue() error {
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

func (s *deltaSession) maybeSend(tracker *typeTracker) error {
	if tracker.pendingAck {
		return nil
	}
	snap, _ := s.srv.cache.Get(s.team, tracker.typeURL)

	current := filterBySubscription(snap.Resources, tracker)
	currentNames := make(map[string]struct{}, len(current))

	var added []*discoverygrpc.Resource
	for _, res := range current {
		name := resourceName(res)
		currentNames[name] = struct{}{}
		if tracker.sentVersions[name] == snap.Version {
			continue
		}
		resAny, err := anypb.New(res.(proto.Message))
		if err != nil {
			return wrapTransportErr(err)
		}
		added = append(added, &discoverygrpc.Resource{
			Name:     name,
			Version:  snap.Version,
			Resource: resAny,
		})
	}

	var removed []string
	for name := range tracker.sentVersions {
		if _, ok := currentNames[name]; !ok {
			removed = append(removed, name)
		}
	}

	if len(added) == 0 && len(removed) == 0 && !tracker.subsDirty {
		return nil
	}

	nonce := tracker.nextNonce()
	resp := &discoverygrpc.DeltaDiscoveryResponse{
		SystemVersionInfo: snap.Version,
		Resources:         added,
		RemovedResources:  removed,
		TypeUrl:           tracker.typeURL,
		Nonce:             nonce,
	}
	if err := s.stream.Send(resp); err != nil {
		return wrapTransportErr(err)
	}

	for _, r := range added {
		tracker.sentVersions[r.Name] = r.Version
	}
	for _, name := range removed {
		delete(tracker.sentVersions, name)
	}
	tracker.lastSentVersion = snap.Version
	tracker.lastSentNonce = nonce
	tracker.pendingAck = true
	tracker.subsDirty = false
	return nil
}

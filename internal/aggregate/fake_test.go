package aggregate

import (
	"context"
	"sync"
	"time"

	"github.com/ppiankov/patfam/internal/model"
	"github.com/ppiankov/patfam/internal/source"
)

// fakeClient serves canned responses and records the requests it saw
type fakeClient struct {
	name    string
	kind    source.Kind
	family  bool
	queries map[string][]model.PartialRecord
	lookups map[string]*source.Response
	err     error
	delay   time.Duration

	mu    sync.Mutex
	calls []source.Request
}

func newFake(name string, kind source.Kind, family bool) *fakeClient {
	return &fakeClient{
		name:    name,
		kind:    kind,
		family:  family,
		queries: make(map[string][]model.PartialRecord),
		lookups: make(map[string]*source.Response),
	}
}

func (f *fakeClient) Name() string                  { return f.name }
func (f *fakeClient) Kind() source.Kind             { return f.kind }
func (f *fakeClient) SupportsFamilyExpansion() bool { return f.family }

func (f *fakeClient) Lookup(ctx context.Context, req source.Request) (*source.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, source.TransportError(f.name, req.Op(), ctx.Err())
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, f.err
	}

	if req.IsQuery() {
		var out []model.PartialRecord
		for _, rec := range f.queries[req.Query] {
			if req.Jurisdiction == "" || rec.Identifier.Jurisdiction == req.Jurisdiction {
				out = append(out, rec)
			}
		}
		return &source.Response{Records: out}, nil
	}
	if resp, ok := f.lookups[req.ID.Key()]; ok {
		return resp, nil
	}
	return &source.Response{}, nil
}

func (f *fakeClient) callsFor(target string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Target() == target {
			n++
		}
	}
	return n
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeClient) record(raw string, fields model.Fields) model.PartialRecord {
	return model.PartialRecord{
		Identifier: model.MustParseIdentifier(raw),
		Source:     f.name,
		SourceKind: f.kind,
		Fields:     fields,
	}
}

// addFamily registers a lookup of root returning records for root and members
// plus family relations
func (f *fakeClient) addFamily(root string, rootFields model.Fields, members ...string) {
	rootID := model.MustParseIdentifier(root)
	resp := &source.Response{Records: []model.PartialRecord{f.record(root, rootFields)}}
	for _, m := range members {
		resp.Records = append(resp.Records, f.record(m, model.Fields{}))
		resp.Related = append(resp.Related, source.Relation{From: rootID, To: model.MustParseIdentifier(m), Type: source.RelationFamilyMember})
	}
	f.lookups[rootID.Key()] = resp
}

func testConfig() *model.Config {
	cfg := model.DefaultConfig()
	cfg.Run.Deadline = 5 * time.Second
	cfg.Run.CallTimeout = time.Second
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 4 * time.Millisecond
	cfg.Seed.UseSynonyms = false
	return cfg
}

func noSleep(context.Context, time.Duration) error { return nil }

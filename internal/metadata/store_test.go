package metadata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/metaline/metaline/internal/storage"
	"github.com/metaline/metaline/internal/storage/sqlite"
	"github.com/metaline/metaline/internal/types"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	src, err := sqlite.New(ctx, ":memory:")
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	s, err := Open(ctx, src, types.MigrationOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustPutArtifactType(t *testing.T, s *Store, name string, props map[string]types.PropertyType) int64 {
	t.Helper()
	id, err := s.PutArtifactType(context.Background(), types.Type{Name: name, Properties: props}, types.PutTypeOptions{})
	if err != nil {
		t.Fatalf("PutArtifactType(%q): %v", name, err)
	}
	return id
}

func mustPutExecutionType(t *testing.T, s *Store, name string) int64 {
	t.Helper()
	id, err := s.PutExecutionType(context.Background(), types.Type{Name: name}, types.PutTypeOptions{})
	if err != nil {
		t.Fatalf("PutExecutionType(%q): %v", name, err)
	}
	return id
}

func mustPutContextType(t *testing.T, s *Store, name string) int64 {
	t.Helper()
	id, err := s.PutContextType(context.Background(), types.Type{Name: name}, types.PutTypeOptions{})
	if err != nil {
		t.Fatalf("PutContextType(%q): %v", name, err)
	}
	return id
}

func TestPutTypeAssignsStableID(t *testing.T) {
	s := openStore(t)
	props := map[string]types.PropertyType{"state": types.PropertyTypeString}

	first := mustPutArtifactType(t, s, "trainer", props)
	second := mustPutArtifactType(t, s, "trainer", props)
	if first != second {
		t.Errorf("ids differ for identical type: %d then %d", first, second)
	}

	third, err := s.PutArtifactType(context.Background(),
		types.Type{Name: "trainer", Properties: props},
		types.PutTypeOptions{AllFieldsMatch: true})
	if err != nil {
		t.Fatalf("PutArtifactType with AllFieldsMatch: %v", err)
	}
	if third != first {
		t.Errorf("AllFieldsMatch put returned %d, want %d", third, first)
	}
}

func TestPutTypeAddsProperties(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	k := mustPutArtifactType(t, s, "t", map[string]types.PropertyType{"p1": types.PropertyTypeString})

	k2, err := s.PutArtifactType(ctx, types.Type{
		Name: "t",
		Properties: map[string]types.PropertyType{
			"p1": types.PropertyTypeString,
			"p2": types.PropertyTypeInt,
		},
	}, types.PutTypeOptions{CanAddFields: true})
	if err != nil {
		t.Fatalf("PutArtifactType with CanAddFields: %v", err)
	}
	if k2 != k {
		t.Errorf("evolved type id = %d, want %d", k2, k)
	}

	got, err := s.GetArtifactType(ctx, "t")
	if err != nil {
		t.Fatalf("GetArtifactType: %v", err)
	}
	if len(got.Properties) != 2 {
		t.Fatalf("stored type has %d properties, want 2: %v", len(got.Properties), got.Properties)
	}
	if got.Properties["p2"] != types.PropertyTypeInt {
		t.Errorf("p2 = %s, want INT", got.Properties["p2"])
	}
}

func TestPutTypeRejectsOmission(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	mustPutArtifactType(t, s, "t", map[string]types.PropertyType{
		"p1": types.PropertyTypeString,
		"p2": types.PropertyTypeInt,
	})

	_, err := s.PutArtifactType(ctx, types.Type{
		Name:       "t",
		Properties: map[string]types.PropertyType{"p1": types.PropertyTypeString},
	}, types.PutTypeOptions{})
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("omitting put = %v, want ErrAlreadyExists", err)
	}

	got, err := s.GetArtifactType(ctx, "t")
	if err != nil {
		t.Fatalf("GetArtifactType: %v", err)
	}
	if len(got.Properties) != 2 {
		t.Errorf("stored type has %d properties after rejected put, want 2", len(got.Properties))
	}
}

func TestPutTypeOmissionAllowed(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	k := mustPutArtifactType(t, s, "t", map[string]types.PropertyType{
		"p1": types.PropertyTypeString,
		"p2": types.PropertyTypeInt,
	})

	k2, err := s.PutArtifactType(ctx, types.Type{
		Name:       "t",
		Properties: map[string]types.PropertyType{"p1": types.PropertyTypeString},
	}, types.PutTypeOptions{CanOmitFields: true})
	if err != nil {
		t.Fatalf("PutArtifactType with CanOmitFields: %v", err)
	}
	if k2 != k {
		t.Errorf("id = %d, want %d", k2, k)
	}

	got, err := s.GetArtifactType(ctx, "t")
	if err != nil {
		t.Fatalf("GetArtifactType: %v", err)
	}
	if _, ok := got.Properties["p2"]; !ok {
		t.Error("omitted property p2 was dropped from the stored type")
	}
}

func TestPutTypeRejectsKindChange(t *testing.T) {
	s := openStore(t)

	mustPutArtifactType(t, s, "t", map[string]types.PropertyType{"p1": types.PropertyTypeString})

	_, err := s.PutArtifactType(context.Background(), types.Type{
		Name:       "t",
		Properties: map[string]types.PropertyType{"p1": types.PropertyTypeInt},
	}, types.PutTypeOptions{CanAddFields: true, CanOmitFields: true})
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("kind-changing put = %v, want ErrAlreadyExists", err)
	}
}

func TestPutTypeArgumentErrors(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		t    types.Type
	}{
		{"empty type name", types.Type{Properties: map[string]types.PropertyType{"p": types.PropertyTypeInt}}},
		{"empty property name", types.Type{Name: "t", Properties: map[string]types.PropertyType{"": types.PropertyTypeInt}}},
		{"unknown property kind", types.Type{Name: "t", Properties: map[string]types.PropertyType{"p": types.PropertyType(99)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.PutArtifactType(ctx, tt.t, types.PutTypeOptions{})
			if !errors.Is(err, storage.ErrInvalidArgument) {
				t.Errorf("PutArtifactType = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestTypeKindsAreIndependent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	aID := mustPutArtifactType(t, s, "shared", nil)
	eID := mustPutExecutionType(t, s, "shared")
	if aID == eID {
		t.Errorf("artifact and execution types share id %d", aID)
	}

	got, err := s.GetExecutionType(ctx, "shared")
	if err != nil {
		t.Fatalf("GetExecutionType: %v", err)
	}
	if got.ID != eID {
		t.Errorf("GetExecutionType id = %d, want %d", got.ID, eID)
	}

	if _, err := s.GetContextType(ctx, "shared"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetContextType = %v, want ErrNotFound", err)
	}
}

func TestPutTypesBatch(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	trainer := types.Type{Name: "trainer", Properties: map[string]types.PropertyType{"steps": types.PropertyTypeInt}}
	resp, err := s.PutTypes(ctx, types.PutTypesRequest{
		ArtifactTypes:  []types.Type{{Name: "model"}, {Name: "model"}},
		ExecutionTypes: []types.Type{trainer},
		ContextTypes:   []types.Type{{Name: "experiment"}},
	})
	if err != nil {
		t.Fatalf("PutTypes: %v", err)
	}
	if len(resp.ArtifactTypeIDs) != 2 || len(resp.ExecutionTypeIDs) != 1 || len(resp.ContextTypeIDs) != 1 {
		t.Fatalf("response lengths = %d/%d/%d, want 2/1/1",
			len(resp.ArtifactTypeIDs), len(resp.ExecutionTypeIDs), len(resp.ContextTypeIDs))
	}
	if resp.ArtifactTypeIDs[0] != resp.ArtifactTypeIDs[1] {
		t.Errorf("duplicate batch entries got distinct ids %d and %d",
			resp.ArtifactTypeIDs[0], resp.ArtifactTypeIDs[1])
	}

	all, err := s.GetArtifactTypes(ctx)
	if err != nil {
		t.Fatalf("GetArtifactTypes: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("GetArtifactTypes returned %d types, want 1", len(all))
	}

	byID, err := s.GetArtifactTypesByID(ctx, []int64{resp.ArtifactTypeIDs[0], 9999})
	if err != nil {
		t.Fatalf("GetArtifactTypesByID: %v", err)
	}
	if len(byID) != 1 {
		t.Errorf("GetArtifactTypesByID returned %d types, want 1", len(byID))
	}
}

func TestGetTypeNotFound(t *testing.T) {
	s := openStore(t)
	if _, err := s.GetArtifactType(context.Background(), "absent"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetArtifactType = %v, want ErrNotFound", err)
	}
}

func TestGetTypesEmptyRegistry(t *testing.T) {
	s := openStore(t)
	all, err := s.GetExecutionTypes(context.Background())
	if err != nil {
		t.Fatalf("GetExecutionTypes: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("fresh registry lists %d execution types, want 0", len(all))
	}
}

func TestPutArtifactsInsertThenUpdate(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	typeID := mustPutArtifactType(t, s, "data", map[string]types.PropertyType{"property": types.PropertyTypeString})

	ids, err := s.PutArtifacts(ctx, []*types.Artifact{{
		TypeID:     typeID,
		URI:        "/tmp/a",
		Properties: map[string]types.PropertyValue{"property": types.StringValue("3")},
	}})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if len(ids) != 1 || ids[0] == 0 {
		t.Fatalf("insert ids = %v, want one non-zero id", ids)
	}
	a := ids[0]

	again, err := s.PutArtifacts(ctx, []*types.Artifact{{
		ID:         a,
		TypeID:     typeID,
		URI:        "/tmp/a",
		Properties: map[string]types.PropertyValue{"property": types.StringValue("2")},
	}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if again[0] != a {
		t.Errorf("update returned id %d, want %d", again[0], a)
	}

	got, err := s.GetArtifactsByID(ctx, []int64{a})
	if err != nil {
		t.Fatalf("GetArtifactsByID: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d artifacts, want 1", len(got))
	}
	if v := got[0].Properties["property"]; v != types.StringValue("2") {
		t.Errorf("property = %v, want \"2\"", v)
	}
	if got[0].URI != "/tmp/a" {
		t.Errorf("uri = %q, want %q", got[0].URI, "/tmp/a")
	}
}

func TestPutArtifactsValidation(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	typeID := mustPutArtifactType(t, s, "data", map[string]types.PropertyType{"count": types.PropertyTypeInt})

	tests := []struct {
		name string
		a    *types.Artifact
	}{
		{"nil entry", nil},
		{"no type id", &types.Artifact{}},
		{"unknown type id", &types.Artifact{TypeID: 9999}},
		{"undeclared property", &types.Artifact{
			TypeID:     typeID,
			Properties: map[string]types.PropertyValue{"nope": types.IntValue(1)},
		}},
		{"wrong value tag", &types.Artifact{
			TypeID:     typeID,
			Properties: map[string]types.PropertyValue{"count": types.StringValue("1")},
		}},
		{"update of missing id", &types.Artifact{ID: 777, TypeID: typeID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.PutArtifacts(ctx, []*types.Artifact{tt.a})
			if !errors.Is(err, storage.ErrInvalidArgument) {
				t.Errorf("PutArtifacts = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestArtifactTypeImmutableOnUpdate(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	t1 := mustPutArtifactType(t, s, "a1", nil)
	t2 := mustPutArtifactType(t, s, "a2", nil)

	ids, err := s.PutArtifacts(ctx, []*types.Artifact{{TypeID: t1, URI: "u"}})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	a := ids[0]

	_, err = s.PutArtifacts(ctx, []*types.Artifact{{ID: a, TypeID: t2, URI: "u"}})
	if !errors.Is(err, storage.ErrInvalidArgument) {
		t.Fatalf("type-changing update = %v, want ErrInvalidArgument", err)
	}

	// A zero type id on update means "keep the stored type".
	if _, err := s.PutArtifacts(ctx, []*types.Artifact{{ID: a, URI: "u2"}}); err != nil {
		t.Fatalf("typeless update: %v", err)
	}
	got, err := s.GetArtifactsByID(ctx, []int64{a})
	if err != nil {
		t.Fatalf("GetArtifactsByID: %v", err)
	}
	if got[0].TypeID != t1 {
		t.Errorf("type id after typeless update = %d, want %d", got[0].TypeID, t1)
	}
	if got[0].URI != "u2" {
		t.Errorf("uri = %q, want %q", got[0].URI, "u2")
	}
}

func TestCustomProperties(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	typeID := mustPutArtifactType(t, s, "blob", nil)

	custom := map[string]types.PropertyValue{
		"i": types.IntValue(4),
		"d": types.DoubleValue(2.5),
		"s": types.StringValue("x"),
	}
	ids, err := s.PutArtifacts(ctx, []*types.Artifact{{TypeID: typeID, CustomProperties: custom}})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	a := ids[0]

	got, err := s.GetArtifactsByID(ctx, []int64{a})
	if err != nil {
		t.Fatalf("GetArtifactsByID: %v", err)
	}
	for name, want := range custom {
		if got[0].CustomProperties[name] != want {
			t.Errorf("custom %q = %v, want %v", name, got[0].CustomProperties[name], want)
		}
	}

	// An update replaces the custom set: absent names are removed.
	_, err = s.PutArtifacts(ctx, []*types.Artifact{{
		ID:               a,
		CustomProperties: map[string]types.PropertyValue{"i": types.IntValue(5)},
	}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err = s.GetArtifactsByID(ctx, []int64{a})
	if err != nil {
		t.Fatalf("GetArtifactsByID: %v", err)
	}
	if len(got[0].CustomProperties) != 1 {
		t.Errorf("custom set after update = %v, want only i", got[0].CustomProperties)
	}
	if got[0].CustomProperties["i"] != types.IntValue(5) {
		t.Errorf("custom i = %v, want 5", got[0].CustomProperties["i"])
	}

	// The zero PropertyValue carries no tag and cannot be stored.
	_, err = s.PutArtifacts(ctx, []*types.Artifact{{
		TypeID:           typeID,
		CustomProperties: map[string]types.PropertyValue{"empty": {}},
	}})
	if !errors.Is(err, storage.ErrInvalidArgument) {
		t.Errorf("untagged custom value = %v, want ErrInvalidArgument", err)
	}
}

func TestGetArtifactsByURI(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	typeID := mustPutArtifactType(t, s, "blob", nil)

	uris := []string{"u1", "u2", "u2", "", "", ""}
	artifacts := make([]*types.Artifact, len(uris))
	for i, uri := range uris {
		artifacts[i] = &types.Artifact{TypeID: typeID, URI: uri}
	}
	if _, err := s.PutArtifacts(ctx, artifacts); err != nil {
		t.Fatalf("PutArtifacts: %v", err)
	}

	counts := map[string]int{"u1": 1, "u2": 2, "": 3, "none": 0}
	for uri, want := range counts {
		got, err := s.GetArtifactsByURI(ctx, uri)
		if err != nil {
			t.Fatalf("GetArtifactsByURI(%q): %v", uri, err)
		}
		if len(got) != want {
			t.Errorf("GetArtifactsByURI(%q) returned %d artifacts, want %d", uri, len(got), want)
		}
	}

	all, err := s.GetArtifacts(ctx)
	if err != nil {
		t.Fatalf("GetArtifacts: %v", err)
	}
	if len(all) != len(uris) {
		t.Errorf("GetArtifacts returned %d, want %d", len(all), len(uris))
	}
}

func TestGetByIDHandlesMissingAndEmpty(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	typeID := mustPutExecutionType(t, s, "job")

	ids, err := s.PutExecutions(ctx, []*types.Execution{{TypeID: typeID}})
	if err != nil {
		t.Fatalf("PutExecutions: %v", err)
	}

	got, err := s.GetExecutionsByID(ctx, []int64{ids[0], 4242})
	if err != nil {
		t.Fatalf("GetExecutionsByID: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d executions, want 1 (missing ids are dropped)", len(got))
	}

	empty, err := s.GetExecutionsByID(ctx, nil)
	if err != nil {
		t.Fatalf("GetExecutionsByID(nil): %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("empty id list returned %d executions", len(empty))
	}
}

func TestContextNameUnique(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	pipeline := mustPutContextType(t, s, "pipeline")
	project := mustPutContextType(t, s, "project")

	ids, err := s.PutContexts(ctx, []*types.Context{{TypeID: pipeline, Name: "run-1"}})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	c1 := ids[0]

	_, err = s.PutContexts(ctx, []*types.Context{{TypeID: pipeline, Name: "run-1"}})
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("duplicate (type, name) insert = %v, want ErrAlreadyExists", err)
	}

	_, err = s.PutContexts(ctx, []*types.Context{{TypeID: pipeline}})
	if !errors.Is(err, storage.ErrInvalidArgument) {
		t.Fatalf("empty name = %v, want ErrInvalidArgument", err)
	}

	// Same name under a different type is a different pair.
	if _, err := s.PutContexts(ctx, []*types.Context{{TypeID: project, Name: "run-1"}}); err != nil {
		t.Fatalf("same name, different type: %v", err)
	}

	// Updating a context does not collide with itself.
	if _, err := s.PutContexts(ctx, []*types.Context{{ID: c1, TypeID: pipeline, Name: "run-1"}}); err != nil {
		t.Fatalf("self update: %v", err)
	}
}

func TestGetNodesByType(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	blobs := mustPutArtifactType(t, s, "blob", nil)
	models := mustPutArtifactType(t, s, "model", nil)

	if _, err := s.PutArtifacts(ctx, []*types.Artifact{
		{TypeID: blobs, URI: "b1"},
		{TypeID: blobs, URI: "b2"},
		{TypeID: models, URI: "m1"},
	}); err != nil {
		t.Fatalf("PutArtifacts: %v", err)
	}

	got, err := s.GetArtifactsByType(ctx, "blob")
	if err != nil {
		t.Fatalf("GetArtifactsByType: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("blob artifacts = %d, want 2", len(got))
	}

	none, err := s.GetArtifactsByType(ctx, "unregistered")
	if err != nil {
		t.Fatalf("GetArtifactsByType(unregistered): %v", err)
	}
	if len(none) != 0 {
		t.Errorf("unregistered type returned %d artifacts, want 0", len(none))
	}
}

func putLineageNodes(t *testing.T, s *Store) (artifactID, executionID int64) {
	t.Helper()
	ctx := context.Background()
	at := mustPutArtifactType(t, s, "blob", nil)
	et := mustPutExecutionType(t, s, "job")

	aids, err := s.PutArtifacts(ctx, []*types.Artifact{{TypeID: at, URI: "u"}})
	if err != nil {
		t.Fatalf("PutArtifacts: %v", err)
	}
	eids, err := s.PutExecutions(ctx, []*types.Execution{{TypeID: et}})
	if err != nil {
		t.Fatalf("PutExecutions: %v", err)
	}
	return aids[0], eids[0]
}

func TestPutEventsRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	a, e := putLineageNodes(t, s)

	err := s.PutEvents(ctx, []types.Event{{
		ArtifactID:             a,
		ExecutionID:            e,
		Kind:                   types.EventKindInput,
		MillisecondsSinceEpoch: 12345,
		Path:                   []types.PathStep{types.IndexStep(0), types.KeyStep("model")},
	}})
	if err != nil {
		t.Fatalf("PutEvents: %v", err)
	}

	byArtifact, err := s.GetEventsByArtifactIDs(ctx, []int64{a})
	if err != nil {
		t.Fatalf("GetEventsByArtifactIDs: %v", err)
	}
	if len(byArtifact) != 1 {
		t.Fatalf("got %d events, want 1", len(byArtifact))
	}
	got := byArtifact[0]
	if got.ArtifactID != a || got.ExecutionID != e || got.Kind != types.EventKindInput {
		t.Errorf("event = %+v", got)
	}
	if got.MillisecondsSinceEpoch != 12345 {
		t.Errorf("timestamp = %d, want 12345", got.MillisecondsSinceEpoch)
	}
	if len(got.Path) != 2 {
		t.Fatalf("path has %d steps, want 2", len(got.Path))
	}
	if !got.Path[0].IsIndex() || got.Path[0].Index() != 0 {
		t.Errorf("step 0 = %+v, want index 0", got.Path[0])
	}
	if got.Path[1].IsIndex() || got.Path[1].Key() != "model" {
		t.Errorf("step 1 = %+v, want key \"model\"", got.Path[1])
	}

	byExecution, err := s.GetEventsByExecutionIDs(ctx, []int64{e})
	if err != nil {
		t.Fatalf("GetEventsByExecutionIDs: %v", err)
	}
	if len(byExecution) != 1 {
		t.Errorf("got %d events by execution, want 1", len(byExecution))
	}

	n, err := s.CountEvents(ctx)
	if err != nil {
		t.Fatalf("CountEvents: %v", err)
	}
	if n != 1 {
		t.Errorf("CountEvents = %d, want 1", n)
	}
}

func TestPutEventsIdempotentTriple(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	a, e := putLineageNodes(t, s)

	first := types.Event{
		ArtifactID:             a,
		ExecutionID:            e,
		Kind:                   types.EventKindOutput,
		MillisecondsSinceEpoch: 100,
		Path:                   []types.PathStep{types.KeyStep("out")},
	}
	if err := s.PutEvents(ctx, []types.Event{first}); err != nil {
		t.Fatalf("first PutEvents: %v", err)
	}

	second := first
	second.MillisecondsSinceEpoch = 999
	second.Path = []types.PathStep{types.KeyStep("other"), types.KeyStep("steps")}
	if err := s.PutEvents(ctx, []types.Event{second}); err != nil {
		t.Fatalf("second PutEvents: %v", err)
	}

	got, err := s.GetEventsByArtifactIDs(ctx, []int64{a})
	if err != nil {
		t.Fatalf("GetEventsByArtifactIDs: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d events after duplicate put, want 1", len(got))
	}
	if got[0].MillisecondsSinceEpoch != 100 {
		t.Errorf("timestamp = %d, want the first write's 100", got[0].MillisecondsSinceEpoch)
	}
	if len(got[0].Path) != 1 {
		t.Errorf("path has %d steps, want the first write's 1", len(got[0].Path))
	}
}

func TestPutEventsServerTimestamp(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	a, e := putLineageNodes(t, s)

	before := time.Now().UnixMilli()
	err := s.PutEvents(ctx, []types.Event{{ArtifactID: a, ExecutionID: e, Kind: types.EventKindInput}})
	if err != nil {
		t.Fatalf("PutEvents: %v", err)
	}
	after := time.Now().UnixMilli()

	got, err := s.GetEventsByArtifactIDs(ctx, []int64{a})
	if err != nil {
		t.Fatalf("GetEventsByArtifactIDs: %v", err)
	}
	ts := got[0].MillisecondsSinceEpoch
	if ts < before || ts > after {
		t.Errorf("server-filled timestamp %d outside [%d, %d]", ts, before, after)
	}
}

func TestPutEventsValidation(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	a, e := putLineageNodes(t, s)

	tests := []struct {
		name  string
		event types.Event
	}{
		{"unknown kind", types.Event{ArtifactID: a, ExecutionID: e, Kind: types.EventKindUnknown}},
		{"out of range kind", types.Event{ArtifactID: a, ExecutionID: e, Kind: types.EventKind(99)}},
		{"missing artifact", types.Event{ArtifactID: 4242, ExecutionID: e, Kind: types.EventKindInput}},
		{"missing execution", types.Event{ArtifactID: a, ExecutionID: 4242, Kind: types.EventKindInput}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.PutEvents(ctx, []types.Event{tt.event})
			if !errors.Is(err, storage.ErrInvalidArgument) {
				t.Errorf("PutEvents = %v, want ErrInvalidArgument", err)
			}
		})
	}

	if events, err := s.GetEventsByArtifactIDs(ctx, nil); err != nil || len(events) != 0 {
		t.Errorf("empty id list = (%v, %v), want no events, no error", events, err)
	}
}

func TestPutAttributionsAndAssociations(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	a, e := putLineageNodes(t, s)
	ct := mustPutContextType(t, s, "experiment")
	cids, err := s.PutContexts(ctx, []*types.Context{{TypeID: ct, Name: "exp-1"}})
	if err != nil {
		t.Fatalf("PutContexts: %v", err)
	}
	c := cids[0]

	err = s.PutAttributionsAndAssociations(ctx,
		[]types.Attribution{{ArtifactID: a, ContextID: c}},
		[]types.Association{{ExecutionID: e, ContextID: c}})
	if err != nil {
		t.Fatalf("PutAttributionsAndAssociations: %v", err)
	}

	gotContexts, err := s.GetContextsByArtifact(ctx, a)
	if err != nil {
		t.Fatalf("GetContextsByArtifact: %v", err)
	}
	if len(gotContexts) != 1 || gotContexts[0].ID != c {
		t.Errorf("GetContextsByArtifact = %+v, want context %d", gotContexts, c)
	}
	if gotContexts[0].Name != "exp-1" {
		t.Errorf("context name = %q, want %q", gotContexts[0].Name, "exp-1")
	}

	gotArtifacts, err := s.GetArtifactsByContext(ctx, c)
	if err != nil {
		t.Fatalf("GetArtifactsByContext: %v", err)
	}
	if len(gotArtifacts) != 1 || gotArtifacts[0].ID != a {
		t.Errorf("GetArtifactsByContext = %+v, want artifact %d", gotArtifacts, a)
	}

	gotContexts, err = s.GetContextsByExecution(ctx, e)
	if err != nil {
		t.Fatalf("GetContextsByExecution: %v", err)
	}
	if len(gotContexts) != 1 || gotContexts[0].ID != c {
		t.Errorf("GetContextsByExecution = %+v, want context %d", gotContexts, c)
	}

	gotExecutions, err := s.GetExecutionsByContext(ctx, c)
	if err != nil {
		t.Fatalf("GetExecutionsByContext: %v", err)
	}
	if len(gotExecutions) != 1 || gotExecutions[0].ID != e {
		t.Errorf("GetExecutionsByContext = %+v, want execution %d", gotExecutions, e)
	}
}

func TestAttributionIdempotent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	a, _ := putLineageNodes(t, s)
	ct := mustPutContextType(t, s, "experiment")
	cids, err := s.PutContexts(ctx, []*types.Context{{TypeID: ct, Name: "exp-1"}})
	if err != nil {
		t.Fatalf("PutContexts: %v", err)
	}
	c := cids[0]

	edge := []types.Attribution{{ArtifactID: a, ContextID: c}}
	for i := 0; i < 2; i++ {
		if err := s.PutAttributionsAndAssociations(ctx, edge, nil); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	got, err := s.GetContextsByArtifact(ctx, a)
	if err != nil {
		t.Fatalf("GetContextsByArtifact: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d contexts after duplicate attribution, want 1", len(got))
	}
}

func TestEdgeValidation(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	a, _ := putLineageNodes(t, s)
	ct := mustPutContextType(t, s, "experiment")
	cids, err := s.PutContexts(ctx, []*types.Context{{TypeID: ct, Name: "exp-1"}})
	if err != nil {
		t.Fatalf("PutContexts: %v", err)
	}
	c := cids[0]

	err = s.PutAttributionsAndAssociations(ctx, []types.Attribution{{ArtifactID: a, ContextID: 4242}}, nil)
	if !errors.Is(err, storage.ErrInvalidArgument) {
		t.Errorf("unknown context = %v, want ErrInvalidArgument", err)
	}
	err = s.PutAttributionsAndAssociations(ctx, []types.Attribution{{ArtifactID: 4242, ContextID: c}}, nil)
	if !errors.Is(err, storage.ErrInvalidArgument) {
		t.Errorf("unknown artifact = %v, want ErrInvalidArgument", err)
	}
	err = s.PutAttributionsAndAssociations(ctx, nil, []types.Association{{ExecutionID: 4242, ContextID: c}})
	if !errors.Is(err, storage.ErrInvalidArgument) {
		t.Errorf("unknown execution = %v, want ErrInvalidArgument", err)
	}
}

func TestPutExecutionThreeCalls(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	et := mustPutExecutionType(t, s, "runner")
	at := mustPutArtifactType(t, s, "blob", nil)

	resp1, err := s.PutExecution(ctx, types.PutExecutionRequest{
		Execution: types.Execution{TypeID: et},
	})
	if err != nil {
		t.Fatalf("call a: %v", err)
	}
	if resp1.ExecutionID == 0 {
		t.Fatal("call a assigned no execution id")
	}
	if len(resp1.ArtifactIDs) != 0 {
		t.Errorf("call a returned %d artifact ids, want 0", len(resp1.ArtifactIDs))
	}
	e := resp1.ExecutionID

	resp2, err := s.PutExecution(ctx, types.PutExecutionRequest{
		Execution: types.Execution{ID: e, TypeID: et},
		ArtifactEventPairs: []types.ArtifactAndEvent{
			{Artifact: &types.Artifact{TypeID: at, URI: "u"}},
		},
	})
	if err != nil {
		t.Fatalf("call b: %v", err)
	}
	if resp2.ExecutionID != e {
		t.Errorf("call b execution id = %d, want %d", resp2.ExecutionID, e)
	}
	if len(resp2.ArtifactIDs) != 1 {
		t.Fatalf("call b returned %d artifact ids, want 1", len(resp2.ArtifactIDs))
	}
	a1 := resp2.ArtifactIDs[0]

	resp3, err := s.PutExecution(ctx, types.PutExecutionRequest{
		Execution: types.Execution{ID: e, TypeID: et},
		ArtifactEventPairs: []types.ArtifactAndEvent{
			{
				Artifact: &types.Artifact{ID: a1, TypeID: at, URI: "u"},
				Event:    &types.Event{Kind: types.EventKindInput},
			},
			{
				Artifact: &types.Artifact{TypeID: at, URI: "u2"},
				Event:    &types.Event{Kind: types.EventKindOutput},
			},
		},
	})
	if err != nil {
		t.Fatalf("call c: %v", err)
	}
	if len(resp3.ArtifactIDs) != 2 {
		t.Fatalf("call c returned %d artifact ids, want 2", len(resp3.ArtifactIDs))
	}
	if resp3.ArtifactIDs[0] != a1 {
		t.Errorf("call c first artifact id = %d, want the updated %d", resp3.ArtifactIDs[0], a1)
	}
	if resp3.ArtifactIDs[1] == a1 || resp3.ArtifactIDs[1] == 0 {
		t.Errorf("call c second artifact id = %d, want a fresh id", resp3.ArtifactIDs[1])
	}

	events, err := s.GetEventsByExecutionIDs(ctx, []int64{e})
	if err != nil {
		t.Fatalf("GetEventsByExecutionIDs: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("execution has %d events, want 2", len(events))
	}
	for _, ev := range events {
		if ev.ExecutionID != e {
			t.Errorf("event execution id = %d, want %d", ev.ExecutionID, e)
		}
	}

	executions, err := s.CountExecutions(ctx)
	if err != nil {
		t.Fatalf("CountExecutions: %v", err)
	}
	if executions != 1 {
		t.Errorf("CountExecutions = %d, want 1", executions)
	}
	artifacts, err := s.CountArtifacts(ctx)
	if err != nil {
		t.Fatalf("CountArtifacts: %v", err)
	}
	if artifacts != 2 {
		t.Errorf("CountArtifacts = %d, want 2", artifacts)
	}
}

func TestPutExecutionEventOnlyPair(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	a, _ := putLineageNodes(t, s)
	et := mustPutExecutionType(t, s, "runner")

	resp, err := s.PutExecution(ctx, types.PutExecutionRequest{
		Execution: types.Execution{TypeID: et},
		ArtifactEventPairs: []types.ArtifactAndEvent{
			{Event: &types.Event{ArtifactID: a, Kind: types.EventKindInput}},
		},
	})
	if err != nil {
		t.Fatalf("PutExecution: %v", err)
	}
	if len(resp.ArtifactIDs) != 1 || resp.ArtifactIDs[0] != a {
		t.Errorf("artifact ids = %v, want [%d]", resp.ArtifactIDs, a)
	}

	events, err := s.GetEventsByArtifactIDs(ctx, []int64{a})
	if err != nil {
		t.Fatalf("GetEventsByArtifactIDs: %v", err)
	}
	if len(events) != 1 || events[0].ExecutionID != resp.ExecutionID {
		t.Errorf("events = %+v, want one tied to execution %d", events, resp.ExecutionID)
	}
}

func TestPutExecutionPairValidation(t *testing.T) {
	s := openStore(t)
	et := mustPutExecutionType(t, s, "runner")

	_, err := s.PutExecution(context.Background(), types.PutExecutionRequest{
		Execution:          types.Execution{TypeID: et},
		ArtifactEventPairs: []types.ArtifactAndEvent{{}},
	})
	if !errors.Is(err, storage.ErrInvalidArgument) {
		t.Fatalf("empty pair = %v, want ErrInvalidArgument", err)
	}
}

func TestPutExecutionWithContexts(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	et := mustPutExecutionType(t, s, "runner")
	at := mustPutArtifactType(t, s, "blob", nil)
	ct := mustPutContextType(t, s, "experiment")

	resp, err := s.PutExecution(ctx, types.PutExecutionRequest{
		Execution: types.Execution{TypeID: et},
		ArtifactEventPairs: []types.ArtifactAndEvent{
			{Artifact: &types.Artifact{TypeID: at, URI: "u"}},
		},
		Contexts: []types.Context{{TypeID: ct, Name: "exp-1"}},
	})
	if err != nil {
		t.Fatalf("PutExecution: %v", err)
	}
	if len(resp.ContextIDs) != 1 {
		t.Fatalf("context ids = %v, want one", resp.ContextIDs)
	}
	c := resp.ContextIDs[0]

	gotExecutions, err := s.GetExecutionsByContext(ctx, c)
	if err != nil {
		t.Fatalf("GetExecutionsByContext: %v", err)
	}
	if len(gotExecutions) != 1 || gotExecutions[0].ID != resp.ExecutionID {
		t.Errorf("context associations = %+v, want execution %d", gotExecutions, resp.ExecutionID)
	}

	gotArtifacts, err := s.GetArtifactsByContext(ctx, c)
	if err != nil {
		t.Fatalf("GetArtifactsByContext: %v", err)
	}
	if len(gotArtifacts) != 1 || gotArtifacts[0].ID != resp.ArtifactIDs[0] {
		t.Errorf("context attributions = %+v, want artifact %d", gotArtifacts, resp.ArtifactIDs[0])
	}

	// Re-running with the resolved context id links the same context.
	again, err := s.PutExecution(ctx, types.PutExecutionRequest{
		Execution: types.Execution{TypeID: et},
		Contexts:  []types.Context{{ID: c, TypeID: ct, Name: "exp-1"}},
	})
	if err != nil {
		t.Fatalf("second PutExecution: %v", err)
	}
	if len(again.ContextIDs) != 1 || again.ContextIDs[0] != c {
		t.Errorf("second call context ids = %v, want [%d]", again.ContextIDs, c)
	}
	gotExecutions, err = s.GetExecutionsByContext(ctx, c)
	if err != nil {
		t.Fatalf("GetExecutionsByContext: %v", err)
	}
	if len(gotExecutions) != 2 {
		t.Errorf("context has %d executions, want 2", len(gotExecutions))
	}
}

func TestPutExecutionRollsBackWhole(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	et := mustPutExecutionType(t, s, "runner")

	_, err := s.PutExecution(ctx, types.PutExecutionRequest{
		Execution: types.Execution{TypeID: et},
		ArtifactEventPairs: []types.ArtifactAndEvent{
			{Artifact: &types.Artifact{TypeID: 9999, URI: "u"}},
		},
	})
	if !errors.Is(err, storage.ErrInvalidArgument) {
		t.Fatalf("PutExecution = %v, want ErrInvalidArgument", err)
	}

	for name, count := range map[string]func(context.Context) (int64, error){
		"executions": s.CountExecutions,
		"artifacts":  s.CountArtifacts,
		"events":     s.CountEvents,
	} {
		n, err := count(ctx)
		if err != nil {
			t.Fatalf("count %s: %v", name, err)
		}
		if n != 0 {
			t.Errorf("%s count = %d after rollback, want 0", name, n)
		}
	}
}

func TestCanceledContextRejected(t *testing.T) {
	s := openStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ops := map[string]func() error{
		"PutArtifactType": func() error {
			_, err := s.PutArtifactType(ctx, types.Type{Name: "t"}, types.PutTypeOptions{})
			return err
		},
		"PutArtifacts": func() error {
			_, err := s.PutArtifacts(ctx, nil)
			return err
		},
		"GetArtifacts": func() error {
			_, err := s.GetArtifacts(ctx)
			return err
		},
		"PutEvents": func() error {
			return s.PutEvents(ctx, nil)
		},
		"PutExecution": func() error {
			_, err := s.PutExecution(ctx, types.PutExecutionRequest{})
			return err
		},
		"SchemaVersion": func() error {
			_, err := s.SchemaVersion(ctx)
			return err
		},
	}
	for name, op := range ops {
		if err := op(); !errors.Is(err, storage.ErrCanceled) {
			t.Errorf("%s = %v, want ErrCanceled", name, err)
		}
	}
}

func TestCounts(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	for name, count := range map[string]func(context.Context) (int64, error){
		"types":      s.CountTypes,
		"artifacts":  s.CountArtifacts,
		"executions": s.CountExecutions,
		"contexts":   s.CountContexts,
		"events":     s.CountEvents,
	} {
		n, err := count(ctx)
		if err != nil {
			t.Fatalf("count %s: %v", name, err)
		}
		if n != 0 {
			t.Errorf("fresh store %s count = %d, want 0", name, n)
		}
	}

	at := mustPutArtifactType(t, s, "blob", nil)
	ct := mustPutContextType(t, s, "experiment")
	if _, err := s.PutArtifacts(ctx, []*types.Artifact{{TypeID: at}}); err != nil {
		t.Fatalf("PutArtifacts: %v", err)
	}
	if _, err := s.PutContexts(ctx, []*types.Context{{TypeID: ct, Name: "e"}}); err != nil {
		t.Fatalf("PutContexts: %v", err)
	}

	if n, _ := s.CountTypes(ctx); n != 2 {
		t.Errorf("CountTypes = %d, want 2", n)
	}
	if n, _ := s.CountArtifacts(ctx); n != 1 {
		t.Errorf("CountArtifacts = %d, want 1", n)
	}
	if n, _ := s.CountContexts(ctx); n != 1 {
		t.Errorf("CountContexts = %d, want 1", n)
	}
}

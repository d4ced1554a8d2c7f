package species

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedCatalogLoads(t *testing.T) {
	s := NewStore("", time.Second)
	catalog := s.Catalog()
	require.NotEmpty(t, catalog.Items)
	assert.NotEmpty(t, catalog.Meta.Version)

	for _, item := range catalog.Items {
		assert.NotEmpty(t, item.ID)
		assert.NotEmpty(t, item.Name)
		assert.NotEmpty(t, item.Keywords)
	}
}

func TestKeywordsSortedAndDeduped(t *testing.T) {
	s := NewStore("", time.Second)
	keywords := s.Keywords()
	require.NotEmpty(t, keywords)

	seen := make(map[string]bool)
	for i, kw := range keywords {
		assert.Equal(t, strings.ToLower(kw), kw)
		assert.False(t, seen[kw], "重复关键词: %s", kw)
		seen[kw] = true
		if i > 0 {
			assert.LessOrEqual(t, keywords[i-1], kw)
		}
	}
	assert.Contains(t, keywords, "t-rex")
}

func TestFilter(t *testing.T) {
	items := []Species{
		{ID: "trex", Name: "Tyrannosaurus Rex", Keywords: []string{"tyrannosaurus", "t-rex"}, Diet: "carnivore", Period: "cretaceous"},
		{ID: "stego", Name: "Stegosaurus", Keywords: []string{"stegosaurus"}, Diet: "herbivore", Period: "jurassic"},
		{ID: "raptor", Name: "Velociraptor", Keywords: []string{"raptor"}, Diet: "carnivore", Period: "cretaceous"},
	}

	assert.Len(t, Filter(items, "", "", ""), 3)
	assert.Len(t, Filter(items, "", "carnivore", ""), 2)
	assert.Len(t, Filter(items, "", "", "jurassic"), 1)

	got := Filter(items, "rex", "", "")
	require.Len(t, got, 1)
	assert.Equal(t, "trex", got[0].ID)

	assert.Empty(t, Filter(items, "no-such", "", ""))
}

func TestRefreshRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"meta":{"version":"remote-1"},"items":[{"id":"x","name":"X","keywords":["x"]}]}`))
	}))
	defer srv.Close()

	s := NewStore(srv.URL, time.Second)
	assert.Equal(t, "refreshed", s.RefreshRemote(context.Background()))
	assert.Equal(t, "remote-1", s.Catalog().Meta.Version)
	assert.Len(t, s.Catalog().Items, 1)
}

func TestRefreshRemoteKeepsLocalOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewStore(srv.URL, time.Second)
	before := s.Catalog()
	assert.Equal(t, "bad-status", s.RefreshRemote(context.Background()))
	assert.Equal(t, before.Meta, s.Catalog().Meta)
}

func TestRefreshRemoteDisabled(t *testing.T) {
	s := NewStore("", time.Second)
	assert.Equal(t, "remote-disabled", s.RefreshRemote(context.Background()))
}

func TestRefreshRemoteParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	s := NewStore(srv.URL, time.Second)
	before := s.Catalog()
	assert.Equal(t, "parse-error", s.RefreshRemote(context.Background()))
	assert.Len(t, s.Catalog().Items, len(before.Items))
}

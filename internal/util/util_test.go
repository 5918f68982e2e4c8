package util

import (
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenEncoder(t *testing.T) {
	enc, err := NewTokenEncoder("salt")
	require.NoError(t, err)

	a := enc.Encode(1)
	assert.GreaterOrEqual(t, len(a), 5)
	assert.Equal(t, a, enc.Encode(1))
	assert.NotEqual(t, a, enc.Encode(2))
	assert.Empty(t, enc.Encode(-1))
}

func TestGenerateID_Unique(t *testing.T) {
	assert.NotEqual(t, GenerateID(), GenerateID())
	assert.NotEmpty(t, GenerateName())
}

func TestFetch(t *testing.T) {
	stamp := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Last-Modified", stamp.Format(http.TimeFormat))
		w.Write([]byte(`{"Items":{}}`))
	}))
	defer srv.Close()

	body, lm, err := Fetch("GET", srv.URL+"/index.json", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"Items":{}}`, string(body))
	assert.True(t, stamp.Equal(lm))

	_, _, err = Fetch("GET", srv.URL+"/missing", nil, nil)
	assert.Error(t, err)
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	require.NoError(t, WriteFileAtomic(path, []byte("one")))
	require.NoError(t, WriteFileAtomic(path, []byte("two")))

	data, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := ioutil.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

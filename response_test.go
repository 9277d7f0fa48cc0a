package callkit

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponse_Close(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(echoHandler))
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	require.NotNil(t, resp)

	r := newResponse(nil, resp, nil)
	require.NoError(t, r.Close())
}

func TestResponse_NilAccessors(t *testing.T) {
	var r *Response
	assert.Zero(t, r.StatusCode())
	assert.False(t, r.IsSuccessful())
	assert.Empty(t, r.Header())
}

func TestResponse_Scenarios(t *testing.T) {
	testCases := []struct {
		name string
		run  func(t *testing.T)
	}{
		{
			name: "data and reader reuse",
			run: func(t *testing.T) {
				server := httptest.NewServer(http.HandlerFunc(echoHandler))
				defer server.Close()

				payload := []byte("hello world")
				resp, err := http.Post(server.URL, "text/plain", bytes.NewReader(payload))
				require.NoError(t, err)
				require.NotNil(t, resp)

				r := newResponse(server.Listener.Addr(), resp, nil)
				defer func() {
					require.NoError(t, r.Close())
				}()

				data, err := r.Data()
				require.NoError(t, err)
				require.Equal(t, payload, data)

				dataCached, err := r.Data()
				require.NoError(t, err)
				require.Equal(t, payload, dataCached)

				rd, err := r.Reader()
				require.NoError(t, err)
				require.NotNil(t, rd)
				readData, err := io.ReadAll(rd)
				require.NoError(t, err)
				require.NoError(t, rd.Close())
				require.Equal(t, payload, readData)

				require.Equal(t, http.StatusOK, r.StatusCode())
				require.Equal(t, "text/plain", r.Header().Get("Content-Type"))
				require.Equal(t, server.Listener.Addr(), r.RemoteAddr())
			},
		},
		{
			name: "reader before data errors",
			run: func(t *testing.T) {
				server := httptest.NewServer(http.HandlerFunc(echoHandler))
				defer server.Close()

				resp, err := http.Get(server.URL)
				require.NoError(t, err)
				require.NotNil(t, resp)

				r := newResponse(nil, resp, nil)
				defer func() {
					require.NoError(t, r.Close())
				}()

				rd, err := r.Reader()
				require.NoError(t, err)
				require.NotNil(t, rd)
				defer func() {
					require.NoError(t, rd.Close())
				}()

				data, err := r.Data()
				require.Nil(t, data)
				require.Error(t, err)
				require.Contains(t,
					err.Error(), "cannot call Data() after Reader() was already used")

				_, err = r.Reader()
				require.Error(t, err)
			},
		},
		{
			name: "nil body",
			run: func(t *testing.T) {
				r := NewResponse(&http.Response{
					StatusCode: http.StatusOK,
					Body:       nil,
				})
				defer func() {
					require.NoError(t, r.Close())
				}()

				data, err := r.Data()
				require.Nil(t, data)
				require.Error(t, err)

				rd, err := r.Reader()
				require.Nil(t, rd)
				require.Error(t, err)
			},
		},
		{
			name: "headers are copied",
			run: func(t *testing.T) {
				server := httptest.NewServer(
					http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
						w.Header().Set("X-Custom-Header", "Value123")
						w.WriteHeader(http.StatusTeapot)
						_, _ = w.Write([]byte("test"))
					}))
				defer server.Close()

				resp, err := http.Get(server.URL)
				require.NoError(t, err)
				require.NotNil(t, resp)

				r := newResponse(nil, resp, nil)
				defer func() {
					require.NoError(t, r.Close())
				}()

				require.Equal(t, http.StatusTeapot, r.StatusCode())
				require.Equal(t, "Value123", r.Header().Get("X-Custom-Header"))
				r.Header().Set("X-Custom-Header", "changed")
				require.Equal(t, "Value123", r.Header().Get("X-Custom-Header"))
				require.Contains(t, r.String(), "418")
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, tc.run)
	}
}

func TestResponse_DecodeJSON(t *testing.T) {
	r := NewResponse(&http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(`{"id":7,"tags":["a","b"]}`)),
	})

	var v struct {
		ID   int      `json:"id"`
		Tags []string `json:"tags"`
	}
	require.NoError(t, r.DecodeJSON(&v))
	assert.Equal(t, 7, v.ID)
	assert.Equal(t, []string{"a", "b"}, v.Tags)

	bad := NewResponse(&http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(`{`)),
	})
	assert.Error(t, bad.DecodeJSON(&v))
}

func TestResponse_discard(t *testing.T) {
	body := &trackingBody{Reader: strings.NewReader(strings.Repeat("x", 10))}
	r := NewResponse(&http.Response{StatusCode: http.StatusServiceUnavailable, Body: body})

	r.discard()
	assert.True(t, body.closed)

	var nilResp *Response
	assert.NotPanics(t, nilResp.discard)
	assert.Zero(t, nilResp.StatusCode())
}

type trackingBody struct {
	io.Reader
	closed bool
}

func (b *trackingBody) Close() error {
	b.closed = true
	return nil
}

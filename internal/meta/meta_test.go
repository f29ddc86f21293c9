package meta

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"liguns/internal/imageproc"
	"liguns/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type graphStub struct {
	mu       sync.Mutex
	calls    []string
	bodies   []map[string]any
	handlers map[string]http.HandlerFunc
}

func newGraphStub(t *testing.T) (*graphStub, *httptest.Server) {
	stub := &graphStub{handlers: map[string]http.HandlerFunc{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.mu.Lock()
		stub.calls = append(stub.calls, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodPost {
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			stub.bodies = append(stub.bodies, body)
		}
		h, ok := stub.handlers[r.Method+" "+r.URL.Path]
		stub.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return stub, srv
}

func jsonReply(status int, payload any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func graphErr(typ, msg string) map[string]any {
	return map[string]any{"error": map[string]any{"message": msg, "type": typ, "code": 190}}
}

func newTestClient(srv *httptest.Server, pollTries int) (*Client, *[]time.Duration) {
	c := NewClient(Options{BaseURL: srv.URL, Version: "v19.0", SettleDelay: 2 * time.Second, PollTries: pollTries, PollPeriod: time.Second}, nil)
	var slept []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return c, &slept
}

func TestPublishFacebook(t *testing.T) {
	t.Run("Photo", func(t *testing.T) {
		stub, srv := newGraphStub(t)
		stub.handlers["POST /v19.0/page-1/photos"] = jsonReply(http.StatusOK, map[string]any{"id": "photo-1", "post_id": "page-1_99"})
		c, _ := newTestClient(srv, 0)

		id, err := c.PublishFacebook(context.Background(), "tok", "page-1", "hello", "https://img/x.jpg")
		require.NoError(t, err)
		assert.Equal(t, "photo-1", id)
		assert.Equal(t, "https://img/x.jpg", stub.bodies[0]["url"])
		assert.Equal(t, "hello", stub.bodies[0]["caption"])
		assert.Equal(t, true, stub.bodies[0]["published"])
	})

	t.Run("FeedFallsBackToPostID", func(t *testing.T) {
		stub, srv := newGraphStub(t)
		stub.handlers["POST /v19.0/page-1/feed"] = jsonReply(http.StatusOK, map[string]any{"post_id": "page-1_7"})
		c, _ := newTestClient(srv, 0)

		id, err := c.PublishFacebook(context.Background(), "tok", "page-1", "text only", "")
		require.NoError(t, err)
		assert.Equal(t, "page-1_7", id)
		assert.Equal(t, "text only", stub.bodies[0]["message"])
		assert.NotContains(t, stub.bodies[0], "url")
	})

	t.Run("OAuthError", func(t *testing.T) {
		stub, srv := newGraphStub(t)
		stub.handlers["POST /v19.0/page-1/feed"] = jsonReply(http.StatusBadRequest, graphErr("OAuthException", "Error validating access token"))
		c, _ := newTestClient(srv, 0)

		_, err := c.PublishFacebook(context.Background(), "tok", "page-1", "x", "")
		var pe *PublishError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "Facebook authentication expired. Please reconnect your account.", pe.Hint)
		assert.Contains(t, pe.Raw, "Error validating access token")
		assert.Contains(t, err.Error(), "OAuthException")
	})

	t.Run("NonJSONError", func(t *testing.T) {
		stub, srv := newGraphStub(t)
		stub.handlers["POST /v19.0/page-1/feed"] = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		c, _ := newTestClient(srv, 0)

		_, err := c.PublishFacebook(context.Background(), "tok", "page-1", "x", "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "503")
	})
}

func TestPublishInstagram(t *testing.T) {
	t.Run("RequiresImage", func(t *testing.T) {
		stub, srv := newGraphStub(t)
		c, _ := newTestClient(srv, 0)

		_, err := c.PublishInstagram(context.Background(), "tok", "ig-1", "x", "")
		assert.ErrorIs(t, err, ErrImageRequired)
		assert.Empty(t, stub.calls)
	})

	t.Run("TwoPhase", func(t *testing.T) {
		stub, srv := newGraphStub(t)
		stub.handlers["POST /v19.0/ig-1/media"] = jsonReply(http.StatusOK, map[string]any{"id": "container-1"})
		stub.handlers["POST /v19.0/ig-1/media_publish"] = jsonReply(http.StatusOK, map[string]any{"id": "media-1"})
		c, slept := newTestClient(srv, 0)

		id, err := c.PublishInstagram(context.Background(), "tok", "ig-1", "cap", "https://img/a.jpg")
		require.NoError(t, err)
		assert.Equal(t, "media-1", id)
		assert.Equal(t, []time.Duration{2 * time.Second}, *slept)
		assert.Equal(t, "container-1", stub.bodies[1]["creation_id"])
		assert.Equal(t, "https://img/a.jpg", stub.bodies[0]["image_url"])
	})

	t.Run("PollsUntilFinished", func(t *testing.T) {
		stub, srv := newGraphStub(t)
		stub.handlers["POST /v19.0/ig-1/media"] = jsonReply(http.StatusOK, map[string]any{"id": "c-2"})
		polls := 0
		stub.handlers["GET /v19.0/c-2"] = func(w http.ResponseWriter, r *http.Request) {
			polls++
			assert.Equal(t, "status,status_code", r.URL.Query().Get("fields"))
			code := ContainerInProgress
			if polls >= 2 {
				code = ContainerFinished
			}
			jsonReply(http.StatusOK, map[string]any{"id": "c-2", "status_code": code})(w, r)
		}
		stub.handlers["POST /v19.0/ig-1/media_publish"] = jsonReply(http.StatusOK, map[string]any{"id": "m-2"})
		c, slept := newTestClient(srv, 5)

		id, err := c.PublishInstagram(context.Background(), "tok", "ig-1", "cap", "https://img/a.jpg")
		require.NoError(t, err)
		assert.Equal(t, "m-2", id)
		assert.Equal(t, 2, polls)
		assert.Equal(t, []time.Duration{2 * time.Second, time.Second}, *slept)
	})

	t.Run("ContainerError", func(t *testing.T) {
		stub, srv := newGraphStub(t)
		stub.handlers["POST /v19.0/ig-1/media"] = jsonReply(http.StatusOK, map[string]any{"id": "c-3"})
		stub.handlers["GET /v19.0/c-3"] = jsonReply(http.StatusOK, map[string]any{"id": "c-3", "status_code": ContainerError, "status": "Error: unsupported format"})
		c, _ := newTestClient(srv, 3)

		_, err := c.PublishInstagram(context.Background(), "tok", "ig-1", "cap", "https://img/a.jpg")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported format")
		assert.NotContains(t, stub.calls, "POST /v19.0/ig-1/media_publish")
	})

	t.Run("PhaseOneFailureHint", func(t *testing.T) {
		stub, srv := newGraphStub(t)
		stub.handlers["POST /v19.0/ig-1/media"] = jsonReply(http.StatusBadRequest, graphErr("", "The aspect ratio is not supported."))
		c, _ := newTestClient(srv, 0)

		_, err := c.PublishInstagram(context.Background(), "tok", "ig-1", "cap", "https://img/a.jpg")
		var pe *PublishError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "Image aspect ratio must be between 4:5 and 1.91:1 for Instagram", pe.Hint)
		assert.Equal(t, "media", pe.Phase)
	})
}

func TestHintFor(t *testing.T) {
	assert.Equal(t, "Insufficient permissions to post to this Page", hintFor(models.PlatformFacebook, "(#200) requires pages permissions"))
	assert.Equal(t, "Image ratio not supported by Facebook", hintFor(models.PlatformFacebook, "bad ratio"))
	assert.Equal(t, "Instagram account must be a Business or Creator account", hintFor(models.PlatformInstagram, "not a Business account"))
	assert.Equal(t, "Image resolution not supported. Min 320px, recommended 1080px", hintFor(models.PlatformInstagram, "low resolution"))
	assert.Equal(t, "Image URL must be publicly accessible by Instagram", hintFor(models.PlatformInstagram, "cannot fetch url"))
	assert.Equal(t, "", hintFor(models.PlatformInstagram, "something else"))
	assert.Equal(t, "", hintFor("twitter", "OAuthException"))
}

type fakeNormalizer struct {
	res      *imageproc.Result
	err      error
	gotLogo  string
	gotImage string
}

func (f *fakeNormalizer) Normalize(_ context.Context, ref string, _ imageproc.Background, logo string) (*imageproc.Result, error) {
	f.gotImage, f.gotLogo = ref, logo
	return f.res, f.err
}

type fakeUploader struct {
	url string
	err error
}

func (f *fakeUploader) Upload(context.Context, string, []byte) (string, error) { return f.url, f.err }

type fakeWebsites map[string]*models.Website

func (f fakeWebsites) GetWebsite(_ context.Context, id string) (*models.Website, error) {
	if w, ok := f[id]; ok {
		return w, nil
	}
	return nil, errors.New("not found")
}

func TestPublisher(t *testing.T) {
	newIG := func(t *testing.T) (*graphStub, *Client) {
		stub, srv := newGraphStub(t)
		stub.handlers["POST /v19.0/ig-1/media"] = jsonReply(http.StatusOK, map[string]any{"id": "c"})
		stub.handlers["POST /v19.0/ig-1/media_publish"] = jsonReply(http.StatusOK, map[string]any{"id": "m"})
		c, _ := newTestClient(srv, 0)
		return stub, c
	}

	req := Request{Platform: models.PlatformInstagram, AccessToken: "tok", AccountID: "ig-1", Caption: "cap", ImageURL: "https://img/orig.jpg", UserID: "u1", WebsiteID: "w1"}

	t.Run("ProcessedImageIsPublished", func(t *testing.T) {
		stub, c := newIG(t)
		norm := &fakeNormalizer{res: &imageproc.Result{Buffer: []byte("jpg"), WasProcessed: true}}
		p := NewPublisher(c, nil,
			WithImageProcessing(norm, &fakeUploader{url: "https://cdn/u1/p.jpg"}, imageproc.BackgroundBlur),
			WithWebsites(fakeWebsites{"w1": {ID: "w1", LogoURL: "https://img/logo.png"}}),
		)

		res, err := p.Publish(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "m", res.PostID)
		assert.True(t, res.ImageProcessed)
		assert.Equal(t, "https://img/logo.png", norm.gotLogo)
		assert.Equal(t, "https://cdn/u1/p.jpg", stub.bodies[0]["image_url"])
	})

	t.Run("NormalizerFailureFallsBack", func(t *testing.T) {
		stub, c := newIG(t)
		norm := &fakeNormalizer{err: &imageproc.FetchError{Ref: "x", Err: errors.New("404")}}
		p := NewPublisher(c, nil, WithImageProcessing(norm, &fakeUploader{url: "unused"}, imageproc.BackgroundWhite))

		res, err := p.Publish(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, res.ImageProcessed)
		assert.Equal(t, "https://img/orig.jpg", stub.bodies[0]["image_url"])
	})

	t.Run("UploadFailureFallsBack", func(t *testing.T) {
		stub, c := newIG(t)
		norm := &fakeNormalizer{res: &imageproc.Result{Buffer: []byte("jpg"), WasProcessed: true}}
		p := NewPublisher(c, nil, WithImageProcessing(norm, &fakeUploader{err: errors.New("disk full")}, imageproc.BackgroundBlur))

		_, err := p.Publish(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "https://img/orig.jpg", stub.bodies[0]["image_url"])
	})

	t.Run("InstagramWithoutImage", func(t *testing.T) {
		_, c := newIG(t)
		p := NewPublisher(c, nil)
		noImage := req
		noImage.ImageURL = ""
		_, err := p.Publish(context.Background(), noImage)
		assert.ErrorIs(t, err, ErrImageRequired)
		assert.Equal(t, "Instagram requires an image", err.Error())
	})

	t.Run("UnsupportedPlatform", func(t *testing.T) {
		_, c := newIG(t)
		p := NewPublisher(c, nil)
		other := req
		other.Platform = models.PlatformLinkedIn
		_, err := p.Publish(context.Background(), other)
		assert.ErrorIs(t, err, ErrUnsupportedPlatform)
	})
}

package media

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestValidate(t *testing.T) {
	lim := Limits{MaxBytes: 1000, MaxVideoSeconds: 60}

	kind, err := Validate("image/png", 10, 0, lim)
	require.NoError(t, err)
	assert.Equal(t, KindImage, kind)

	kind, err = Validate("video/mp4", 10, 59.9, lim)
	require.NoError(t, err)
	assert.Equal(t, KindVideo, kind)

	_, err = Validate("video/mp4", 10, 61, lim)
	assert.ErrorIs(t, err, ErrVideoTooLong)

	_, err = Validate("application/pdf", 10, 0, lim)
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = Validate("image/jpeg", 1001, 0, lim)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestCheckDuration_ZeroDisables(t *testing.T) {
	assert.NoError(t, CheckDuration(600, 0))
}

func TestCloudinaryUploader_Upload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, "unsigned", r.FormValue("upload_preset"))
		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		body, _ := io.ReadAll(f)
		assert.Equal(t, "pic.png", hdr.Filename)
		assert.Equal(t, "data", string(body))
		_, _ = w.Write([]byte(`{"secure_url":"https://res.example/pic.png"}`))
	}))
	defer srv.Close()

	u := newCloudinary(srv.URL, "unsigned", BreakerSettings{MaxFailures: 2, Timeout: time.Second}, zap.NewNop())
	res, err := u.Upload(context.Background(), "pic.png", "image/png", []byte("data"))
	require.NoError(t, err)
	assert.Equal(t, "https://res.example/pic.png", res.URL)
}

func TestCloudinaryUploader_BreakerOpens(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Upload preset not found"}}`))
	}))
	defer srv.Close()

	u := newCloudinary(srv.URL, "nope", BreakerSettings{MaxFailures: 2, Timeout: time.Minute}, zap.NewNop())
	for i := 0; i < 2; i++ {
		_, err := u.Upload(context.Background(), "a.png", "image/png", []byte("x"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Upload preset not found")
	}
	_, err := u.Upload(context.Background(), "a.png", "image/png", []byte("x"))
	require.Error(t, err)
	assert.Equal(t, 2, calls, "open breaker must not reach the server")
}

func TestThumbnail(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for x := 0; x < 640; x++ {
		img.Set(x, x%480, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	out, err := Thumbnail(buf.Bytes(), 320)
	require.NoError(t, err)

	decoded, _, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 320, decoded.Bounds().Dx())
	assert.Equal(t, 240, decoded.Bounds().Dy())

	_, err = Thumbnail([]byte("not an image"), 320)
	assert.Error(t, err)
}

func TestDisabled(t *testing.T) {
	_, err := Disabled{}.Upload(context.Background(), "a", "image/png", nil)
	assert.ErrorIs(t, err, ErrDisabled)
}

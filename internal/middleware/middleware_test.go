package middleware

import (
	"bytes"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/emandor/lemme_grader/internal/config"
)

func ok(c *fiber.Ctx) error { return c.SendString("ok") }

func TestControlToken(t *testing.T) {
	app := fiber.New()
	app.Get("/x", ControlToken("s3cret"), ok)

	cases := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"bearer", "Authorization", "Bearer s3cret", http.StatusOK},
		{"bearer lowercase", "Authorization", "bearer s3cret", http.StatusOK},
		{"custom header", TokenHeader, "s3cret", http.StatusOK},
		{"wrong", "Authorization", "Bearer nope", http.StatusUnauthorized},
		{"basic scheme", "Authorization", "Basic s3cret", http.StatusUnauthorized},
		{"missing", "", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			require.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestControlTokenEmptyConfigRejectsAll(t *testing.T) {
	app := fiber.New()
	app.Get("/x", ControlToken(""), ok)
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(TokenHeader, "")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func upload(t *testing.T, app *fiber.App, name string, body []byte) int {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if name != "" {
		fw, err := mw.CreateFormFile("image", name)
		require.NoError(t, err)
		_, err = io.Copy(fw, bytes.NewReader(body))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/up", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestFileUploadValidator(t *testing.T) {
	cfg := &config.Config{AllowedMaxFileSize: 1, AllowedFileExt: []string{".png", "jpg"}}
	app := fiber.New()
	app.Post("/up", FileUploadValidator(cfg), ok)

	require.Equal(t, http.StatusOK, upload(t, app, "answer.png", pngBytes(t)))
	require.Equal(t, http.StatusBadRequest, upload(t, app, "answer.gif", pngBytes(t)))
	require.Equal(t, http.StatusBadRequest, upload(t, app, "answer.jpg", pngBytes(t)), "png bytes behind a jpg name")
	require.Equal(t, http.StatusBadRequest, upload(t, app, "answer.png", []byte("plain text")))
	require.Equal(t, http.StatusRequestEntityTooLarge, upload(t, app, "big.png", make([]byte, 2<<20)))
	require.Equal(t, http.StatusBadRequest, upload(t, app, "", nil))
}

func TestRequestIDKeepsOrAssigns(t *testing.T) {
	app := fiber.New()
	app.Get("/x", RequestID(), func(c *fiber.Ctx) error { return c.SendString(reqID(c)) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, "abc-123", resp.Header.Get("X-Request-ID"))

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/x", nil))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	require.Len(t, string(body), 36)
	require.Equal(t, string(body), resp.Header.Get("X-Request-ID"))
}

func TestRecoverTurnsPanicInto500(t *testing.T) {
	app := fiber.New()
	app.Use(RequestID(), Recover())
	app.Get("/boom", func(*fiber.Ctx) error { panic("boom") })
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestWSUpgradeRequiresUpgradeAndToken(t *testing.T) {
	app := fiber.New()
	app.Get("/ws", WSUpgrade("s3cret"), ok)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/ws?token=s3cret", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)

	upgrade := func(target string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		req.Header.Set("Connection", "Upgrade")
		req.Header.Set("Upgrade", "websocket")
		return req
	}
	resp, err = app.Test(upgrade("/ws?token=nope"))
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = app.Test(upgrade("/ws?token=s3cret"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

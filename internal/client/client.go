// Package client is a typed HTTP client for the scrub-files endpoints.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/ignite/scrub-gateway/internal/domain"
	"github.com/ignite/scrub-gateway/internal/pkg/httpretry"
)

// APIError is a non-2xx response from the gateway.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the gateway.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to one gateway.
type Client struct {
	baseURL string
	http    httpretry.HTTPDoer
}

// New returns a client for baseURL. When ts is non-nil every request carries
// its token as a bearer credential. Reads are retried on transient failures;
// uploads are sent once.
func New(baseURL string, ts oauth2.TokenSource) *Client {
	hc := &http.Client{Timeout: 10 * time.Minute}
	if ts != nil {
		hc.Transport = &oauth2.Transport{Source: oauth2.ReuseTokenSource(nil, ts)}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpretry.New(hc, httpretry.Options{MaxRetries: 2, BaseDelay: 250 * time.Millisecond}),
	}
}

// Upload sends body with its configuration and returns the new record id.
func (c *Client) Upload(ctx context.Context, cfg domain.FileConfig, fileName string, body io.Reader) (string, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encoding file config: %w", err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := func() error {
			if err := mw.WriteField("fileConfig", string(cfgJSON)); err != nil {
				return err
			}
			part, err := mw.CreateFormFile("file", fileName)
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, body); err != nil {
				return err
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/scrub-files/upload", pr)
	if err != nil {
		pr.Close()
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// Status returns the processing status of a record.
func (c *Client) Status(ctx context.Context, id string) (*domain.Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/scrub-files/status/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var st domain.Status
	if err := c.do(req, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// List returns every record.
func (c *Client) List(ctx context.Context) ([]domain.FileRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/scrub-files/list", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Data []domain.FileRecord `json:"data"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Download writes a categorized output to w and returns the file name the
// gateway suggested.
func (c *Client) Download(ctx context.Context, id string, category domain.Category, w io.Writer) (string, error) {
	u := c.baseURL + "/scrub-files/download/" + url.PathEscape(id) + "?" + url.Values{"file_type": {string(category)}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", decodeError(resp)
	}

	name := string(category)
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		name = params["filename"]
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", fmt.Errorf("download %s: %w", id, err)
	}
	return name, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", req.URL.Path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		apiErr.Message, apiErr.Code = body.Error, body.Code
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

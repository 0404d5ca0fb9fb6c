package daemon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grovetools/multiworld/errors"
	"github.com/grovetools/multiworld/pkg/models"
)

// RemoteClient implements Client by calling the daemon's HTTP API over a Unix socket.
type RemoteClient struct {
	httpClient *http.Client
	socketPath string
	identity   Identity
}

// NewRemoteClient creates a new RemoteClient connected to the daemon socket.
func NewRemoteClient(socketPath string, id Identity) (*RemoteClient, error) {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   30 * time.Second,
	}

	return &RemoteClient{
		httpClient: client,
		socketPath: socketPath,
		identity:   id,
	}, nil
}

// baseURL is the dummy host used for Unix socket HTTP requests.
// The actual connection goes through the Unix socket, not this URL.
const baseURL = "http://unix"

func (c *RemoteClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.identity.ID != "" {
		req.Header.Set(models.HeaderUserID, c.identity.ID)
	}
	if c.identity.Name != "" {
		req.Header.Set(models.HeaderUserName, c.identity.Name)
	}
	return req, nil
}

// do sends req and decodes a 2xx JSON body into out. Error bodies become
// coded errors carrying the daemon's display message.
func (c *RemoteClient) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDaemonNotRunning, "Could not reach the multiworld daemon.")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var e models.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err := json.Unmarshal(data, &e); err != nil || e.Code == "" {
		return errors.New(errors.ErrCodeInternal, fmt.Sprintf("daemon returned status %d", resp.StatusCode)).
			WithDetail("status", resp.StatusCode)
	}
	return errors.New(errors.ErrorCode(e.Code), e.Message).WithDetail("status", resp.StatusCode)
}

func (c *RemoteClient) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *RemoteClient) postJSON(ctx context.Context, path string, body, out interface{}) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

// Health reports daemon liveness and the current session state.
func (c *RemoteClient) Health(ctx context.Context) (*models.HealthResponse, error) {
	var h models.HealthResponse
	if err := c.getJSON(ctx, "/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// RunningConfig returns the configuration the daemon is using.
func (c *RemoteClient) RunningConfig(ctx context.Context) (*models.RunningConfig, error) {
	var cfg models.RunningConfig
	if err := c.getJSON(ctx, "/api/config", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Session returns the current session snapshot.
func (c *RemoteClient) Session(ctx context.Context) (*models.Session, error) {
	var s models.Session
	if err := c.getJSON(ctx, "/api/session", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSession starts preparing a session hosted by the client's identity.
func (c *RemoteClient) CreateSession(ctx context.Context) (*models.Session, error) {
	var s models.Session
	if err := c.postJSON(ctx, "/api/session", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// AddParticipant adds a roster entry.
func (c *RemoteClient) AddParticipant(ctx context.Context, p models.AddParticipantRequest) (*models.Session, error) {
	var s models.Session
	if err := c.postJSON(ctx, "/api/session/participants", p, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Upload sends a player settings file as multipart form data.
func (c *RemoteClient) Upload(ctx context.Context, filename string, r io.Reader) (*models.UploadResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, r); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/session/uploads", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp models.UploadResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Start requests generation and hosting.
func (c *RemoteClient) Start(ctx context.Context, opts models.StartOptions) (*models.MessageResponse, error) {
	var m models.MessageResponse
	if err := c.postJSON(ctx, "/api/session/start", opts, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Cancel ends the session.
func (c *RemoteClient) Cancel(ctx context.Context) (*models.MessageResponse, error) {
	var m models.MessageResponse
	if err := c.postJSON(ctx, "/api/session/cancel", nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Patches lists the extracted patch files.
func (c *RemoteClient) Patches(ctx context.Context) ([]models.PatchFile, error) {
	var patches []models.PatchFile
	if err := c.getJSON(ctx, "/api/patches", &patches); err != nil {
		return nil, err
	}
	return patches, nil
}

// DownloadPatch copies a patch file to w.
func (c *RemoteClient) DownloadPatch(ctx context.Context, name string, w io.Writer) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/patches/"+url.PathEscape(name), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeDaemonNotRunning, "Could not reach the multiworld daemon.")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, decodeError(resp)
	}
	return io.Copy(w, resp.Body)
}

// Whitelist grants userID the right to create sessions.
func (c *RemoteClient) Whitelist(ctx context.Context, userID string) (*models.MessageResponse, error) {
	var m models.MessageResponse
	if err := c.postJSON(ctx, "/api/whitelist", models.WhitelistRequest{UserID: userID}, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// IsRunning returns true if the daemon is available and responding.
func (c *RemoteClient) IsRunning() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := c.Health(ctx)
	return err == nil
}

func streamPath(path string, since uint64) string {
	if since == 0 {
		return path
	}
	return path + "?since=" + strconv.FormatUint(since, 10)
}

// StreamEvents subscribes to real-time updates via Server-Sent Events (SSE).
// The channel is closed when the context is cancelled or the connection is lost.
func (c *RemoteClient) StreamEvents(ctx context.Context, since uint64) (<-chan models.StreamUpdate, error) {
	req, err := c.newRequest(ctx, http.MethodGet, streamPath("/api/stream", since), nil)
	if err != nil {
		return nil, err
	}

	// Use a separate client with no timeout for streaming
	streamTransport := &http.Transport{
		DialContext: func(dialCtx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(dialCtx, "unix", c.socketPath)
		},
	}
	streamClient := &http.Client{Transport: streamTransport}

	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDaemonNotRunning, "Could not reach the multiworld daemon.")
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}

	ch := make(chan models.StreamUpdate, 10)

	go func() {
		defer resp.Body.Close()
		defer close(ch)
		defer streamTransport.CloseIdleConnections()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()

			// Skip comments and empty lines
			if strings.HasPrefix(line, ":") || line == "" {
				continue
			}
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			var update models.StreamUpdate
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &update); err != nil {
				continue // Skip malformed data
			}

			select {
			case ch <- update:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

// StreamWebSocket subscribes to updates over the daemon's websocket endpoint.
func (c *RemoteClient) StreamWebSocket(ctx context.Context, since uint64) (<-chan models.StreamUpdate, error) {
	dialer := websocket.Dialer{
		NetDialContext: func(dialCtx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(dialCtx, "unix", c.socketPath)
		},
		HandshakeTimeout: 5 * time.Second,
	}

	header := http.Header{}
	if c.identity.ID != "" {
		header.Set(models.HeaderUserID, c.identity.ID)
	}

	conn, resp, err := dialer.DialContext(ctx, "ws://unix"+streamPath("/api/ws", since), header)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			defer resp.Body.Close()
			return nil, decodeError(resp)
		}
		return nil, errors.Wrap(err, errors.ErrCodeDaemonNotRunning, "Could not reach the multiworld daemon.")
	}

	ch := make(chan models.StreamUpdate, 10)

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}()

	go func() {
		defer close(ch)
		for {
			var update models.StreamUpdate
			if err := conn.ReadJSON(&update); err != nil {
				return
			}
			select {
			case ch <- update:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

// Close cleans up any resources used by the client.
func (c *RemoteClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Ensure RemoteClient implements Client interface.
var _ Client = (*RemoteClient)(nil)

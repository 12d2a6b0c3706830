package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"liveclass-backend/internal/metrics"
	"liveclass-backend/internal/models"
)

const (
	scheduledMeetingType = 2
	listPageSize         = 100
	defaultMaxListPages  = 20
)

// ErrMeetingListTruncated is returned together with the meetings read so far
// when the provider still had pages left after the page cap.
var ErrMeetingListTruncated = errors.New("zoom list: page limit reached, result truncated")

// MeetingProvider is the remote meeting API as the orchestrator sees it.
type MeetingProvider interface {
	CreateMeeting(ctx context.Context, req models.CreateMeetingRequest) (*models.RemoteMeeting, error)
	GetMeeting(ctx context.Context, id string) (*models.RemoteMeeting, error)
	UpdateMeeting(ctx context.Context, id string, update models.MeetingUpdate) error
	DeleteMeeting(ctx context.Context, id string) error
	ListMeetings(ctx context.Context, ownerID string) ([]models.RemoteMeeting, error)
	GetJoinInfo(ctx context.Context, id string) (*models.JoinInfo, error)
}

type tokenSource interface {
	GetToken(ctx context.Context) (models.AccessToken, error)
	Invalidate()
}

type ZoomClient struct {
	http         *http.Client
	tokens       tokenSource
	baseURL      string
	defaultOwner string
	timezone     string
	maxRetries   int
	backoff      time.Duration
	maxPages     int
}

type ZoomClientConfig struct {
	BaseURL      string
	DefaultOwner string
	Timezone     string
	MaxRetries   int
	Backoff      time.Duration
	MaxListPages int
}

func NewZoomClient(httpClient *http.Client, tokens tokenSource, cfg ZoomClientConfig) *ZoomClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cfg.DefaultOwner == "" {
		cfg.DefaultOwner = "me"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	if cfg.MaxListPages <= 0 {
		cfg.MaxListPages = defaultMaxListPages
	}
	return &ZoomClient{
		http:         httpClient,
		tokens:       tokens,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		defaultOwner: cfg.DefaultOwner,
		timezone:     cfg.Timezone,
		maxRetries:   cfg.MaxRetries,
		backoff:      cfg.Backoff,
		maxPages:     cfg.MaxListPages,
	}
}

// Wire types

type zoomMeetingSettings struct {
	HostVideo             bool `json:"host_video"`
	ParticipantVideo      bool `json:"participant_video"`
	JoinBeforeHost        bool `json:"join_before_host"`
	MuteUponEntry         bool `json:"mute_upon_entry"`
	WaitingRoom           bool `json:"waiting_room"`
	MeetingAuthentication bool `json:"meeting_authentication"`
}

type zoomCreateBody struct {
	Topic     string              `json:"topic"`
	Type      int                 `json:"type"`
	StartTime string              `json:"start_time"`
	Duration  int                 `json:"duration"`
	Timezone  string              `json:"timezone"`
	Agenda    string              `json:"agenda,omitempty"`
	Settings  zoomMeetingSettings `json:"settings"`
}

type zoomPatchBody struct {
	Topic     *string `json:"topic,omitempty"`
	StartTime *string `json:"start_time,omitempty"`
	Duration  *int    `json:"duration,omitempty"`
	Timezone  string  `json:"timezone,omitempty"`
	Agenda    *string `json:"agenda,omitempty"`
}

type zoomMeeting struct {
	ID        int64  `json:"id"`
	JoinURL   string `json:"join_url"`
	StartURL  string `json:"start_url"`
	Password  string `json:"password"`
	Topic     string `json:"topic"`
	StartTime string `json:"start_time"`
	Duration  int    `json:"duration"`
	Agenda    string `json:"agenda"`
}

type zoomListResponse struct {
	NextPageToken string        `json:"next_page_token"`
	Meetings      []zoomMeeting `json:"meetings"`
}

type zoomErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (m zoomMeeting) toModel() models.RemoteMeeting {
	start, _ := time.Parse(time.RFC3339, m.StartTime)
	return models.RemoteMeeting{
		ProviderID:      strconv.FormatInt(m.ID, 10),
		JoinURL:         m.JoinURL,
		StartURL:        m.StartURL,
		Password:        m.Password,
		Topic:           m.Topic,
		StartTime:       start.UTC(),
		DurationMinutes: m.Duration,
		Agenda:          m.Agenda,
	}
}

func formatStartTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// CreateMeeting schedules a meeting. It is never retried: a lost response
// would otherwise produce a duplicate remote meeting.
func (c *ZoomClient) CreateMeeting(ctx context.Context, req models.CreateMeetingRequest) (*models.RemoteMeeting, error) {
	owner := req.OwnerID
	if owner == "" {
		owner = c.defaultOwner
	}

	body := zoomCreateBody{
		Topic:     req.Topic,
		Type:      scheduledMeetingType,
		StartTime: formatStartTime(req.StartTime),
		Duration:  req.DurationMinutes,
		Timezone:  c.timezone,
		Agenda:    req.Agenda,
		Settings: zoomMeetingSettings{
			HostVideo:             true,
			ParticipantVideo:      true,
			JoinBeforeHost:        false,
			MuteUponEntry:         true,
			WaitingRoom:           true,
			MeetingAuthentication: true,
		},
	}

	var out zoomMeeting
	path := "/users/" + url.PathEscape(owner) + "/meetings"
	if err := c.do(ctx, "create", http.MethodPost, path, body, &out, false); err != nil {
		return nil, err
	}

	m := out.toModel()
	if m.Topic == "" {
		m.Topic = req.Topic
	}
	if m.StartTime.IsZero() {
		m.StartTime = req.StartTime.UTC()
	}
	if m.DurationMinutes == 0 {
		m.DurationMinutes = req.DurationMinutes
	}
	if m.Agenda == "" {
		m.Agenda = req.Agenda
	}
	return &m, nil
}

func (c *ZoomClient) GetMeeting(ctx context.Context, id string) (*models.RemoteMeeting, error) {
	var out zoomMeeting
	if err := c.do(ctx, "get", http.MethodGet, "/meetings/"+url.PathEscape(id), nil, &out, true); err != nil {
		return nil, err
	}
	m := out.toModel()
	return &m, nil
}

// UpdateMeeting sends only the fields present in update. Single attempt.
func (c *ZoomClient) UpdateMeeting(ctx context.Context, id string, update models.MeetingUpdate) error {
	body := zoomPatchBody{
		Topic:    update.Topic,
		Duration: update.DurationMinutes,
		Agenda:   update.Agenda,
	}
	if update.StartTime != nil {
		s := formatStartTime(*update.StartTime)
		body.StartTime = &s
		body.Timezone = c.timezone
	}
	return c.do(ctx, "update", http.MethodPatch, "/meetings/"+url.PathEscape(id), body, nil, false)
}

func (c *ZoomClient) DeleteMeeting(ctx context.Context, id string) error {
	return c.do(ctx, "delete", http.MethodDelete, "/meetings/"+url.PathEscape(id), nil, nil, true)
}

// ListMeetings returns the owner's scheduled meetings sorted by start time.
// If more pages remain after the page cap, the meetings read so far are
// returned with ErrMeetingListTruncated.
func (c *ZoomClient) ListMeetings(ctx context.Context, ownerID string) ([]models.RemoteMeeting, error) {
	if ownerID == "" {
		ownerID = c.defaultOwner
	}

	var meetings []models.RemoteMeeting
	pageToken := ""
	for page := 0; page < c.maxPages; page++ {
		q := url.Values{}
		q.Set("type", "scheduled")
		q.Set("page_size", strconv.Itoa(listPageSize))
		if pageToken != "" {
			q.Set("next_page_token", pageToken)
		}

		var out zoomListResponse
		path := "/users/" + url.PathEscape(ownerID) + "/meetings?" + q.Encode()
		if err := c.do(ctx, "list", http.MethodGet, path, nil, &out, true); err != nil {
			return nil, err
		}
		for _, m := range out.Meetings {
			meetings = append(meetings, m.toModel())
		}
		pageToken = out.NextPageToken
		if pageToken == "" {
			break
		}
	}

	sort.SliceStable(meetings, func(i, j int) bool {
		return meetings[i].StartTime.Before(meetings[j].StartTime)
	})

	if pageToken != "" {
		log.Printf("zoom list (owner %s): stopped after %d pages with more remaining", ownerID, c.maxPages)
		return meetings, ErrMeetingListTruncated
	}
	return meetings, nil
}

func (c *ZoomClient) GetJoinInfo(ctx context.Context, id string) (*models.JoinInfo, error) {
	m, err := c.GetMeeting(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.JoinInfo{JoinURL: m.JoinURL, Topic: m.Topic, StartTime: m.StartTime}, nil
}

// do runs one logical provider call. Idempotent verbs get up to maxRetries
// extra attempts on transient failures; others run once.
func (c *ZoomClient) do(ctx context.Context, op, method, path string, body, out interface{}, idempotent bool) error {
	start := time.Now()
	defer func() {
		metrics.ProviderLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("zoom %s: encode body: %w", op, err)
		}
	}

	attempts := 1
	if idempotent {
		attempts += c.maxRetries
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := c.backoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			log.Printf("zoom %s %s: retry %d/%d after: %v", op, path, attempt, attempts-1, err)
		}

		err = c.doOnce(ctx, op, method, path, payload, out)
		if err == nil || ctx.Err() != nil || !Retryable(err) {
			return err
		}
	}
	return err
}

func (c *ZoomClient) doOnce(ctx context.Context, op, method, path string, payload []byte, out interface{}) error {
	for authRetry := 0; ; authRetry++ {
		tok, err := c.tokens.GetToken(ctx)
		if err != nil {
			metrics.ProviderRequests.WithLabelValues(op, "token_error").Inc()
			return err
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("zoom %s: build request: %w", op, err)
		}
		req.Header.Set("Authorization", "Bearer "+tok.Value)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			metrics.ProviderRequests.WithLabelValues(op, "transport_error").Inc()
			return &transportError{op: op, err: err}
		}

		status := resp.StatusCode
		metrics.ProviderRequests.WithLabelValues(op, strconv.Itoa(status)).Inc()

		// A 401 means the request was rejected before it ran, so one retry
		// with a fresh token is safe even for create.
		if status == http.StatusUnauthorized && authRetry == 0 {
			drainAndClose(resp.Body)
			c.tokens.Invalidate()
			continue
		}

		err = decodeResponse(op, resp, out)
		resp.Body.Close()
		return err
	}
}

func decodeResponse(op string, resp *http.Response, out interface{}) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &transportError{op: op, err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &ProviderAPIError{Op: op, Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var zerr zoomErrorBody
		if json.Unmarshal(body, &zerr) == nil && zerr.Message != "" {
			apiErr.Code = zerr.Code
			apiErr.Message = zerr.Message
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("zoom %s: decode response: %w", op, err)
	}
	return nil
}

type transportError struct {
	op  string
	err error
}

func (e *transportError) Error() string { return fmt.Sprintf("zoom %s: %v", e.op, e.err) }
func (e *transportError) Unwrap() error { return e.err }

// Retryable reports whether repeating the same idempotent call may succeed.
func Retryable(err error) bool {
	var tErr *transportError
	if errors.As(err, &tErr) {
		return !errors.Is(err, context.Canceled)
	}
	return IsTransient(err)
}

func drainAndClose(body io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	body.Close()
}

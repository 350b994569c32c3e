package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const restTimeout = 10 * time.Second

// Goal mirrors the server's goal projection.
type Goal struct {
	ID     int    `json:"id"`
	Title  string `json:"title"`
	Weight int    `json:"weight"`
}

// ChallengeInfo mirrors the server's challenge view.
type ChallengeInfo struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	PointValue  int    `json:"pointValue"`
}

// QuizInfo mirrors the server's quiz view. The correct index never crosses
// the wire.
type QuizInfo struct {
	ID         string   `json:"id"`
	Question   string   `json:"question"`
	Choices    []string `json:"choices"`
	PointValue int      `json:"pointValue"`
}

// Outcome is the server's uniform draw result.
type Outcome struct {
	SpinID       string         `json:"spinId"`
	Goal         Goal           `json:"goal"`
	SegmentCount int            `json:"segmentCount"`
	Kind         string         `json:"workflowKind"`
	State        string         `json:"state"`
	Challenge    *ChallengeInfo `json:"challenge,omitempty"`
	Quiz         *QuizInfo      `json:"quiz,omitempty"`
}

// SpinStatus reports the daily gate and any unresolved outcome.
type SpinStatus struct {
	CanSpin    bool       `json:"canSpin"`
	LastSpinAt *time.Time `json:"lastSpinAt,omitempty"`
	Pending    *Outcome   `json:"pending,omitempty"`
}

// QuizResult is the server's verdict on a quiz answer.
type QuizResult struct {
	Correct       bool `json:"correct"`
	PointsAwarded int  `json:"pointsAwarded"`
}

// ProofView mirrors the server's proof projection.
type ProofView struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	ChallengeID     string    `json:"challengeId"`
	Status          string    `json:"status"`
	MediaType       string    `json:"mediaType,omitempty"`
	URL             string    `json:"url"`
	RejectionReason string    `json:"rejectionReason,omitempty"`
	VoteCount       int       `json:"voteCount"`
	CreatedAt       time.Time `json:"createdAt"`
}

// ProofInput describes evidence to submit. Either URL or File must be set.
type ProofInput struct {
	MediaType   string
	URL         string
	FileName    string
	ContentType string
	File        io.Reader
}

// RESTClient is the authenticated HTTP half of the SDK. The persistent
// channel is advisory; every mutation ultimately lands here.
type RESTClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewRESTClient constructs a bearer-authenticated client for the API at
// baseURL.
func NewRESTClient(baseURL, token string) *RESTClient {
	return &RESTClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: restTimeout},
	}
}

func (c *RESTClient) Spin(ctx context.Context) (Outcome, error) {
	var outcome Outcome
	err := c.do(ctx, http.MethodPost, "/odds/spin", nil, &outcome)
	return outcome, err
}

func (c *RESTClient) SpinStatus(ctx context.Context) (SpinStatus, error) {
	var status SpinStatus
	err := c.do(ctx, http.MethodGet, "/odds/spin/status", nil, &status)
	return status, err
}

func (c *RESTClient) AnswerQuiz(ctx context.Context, choiceIndex int) (QuizResult, error) {
	var result QuizResult
	err := c.do(ctx, http.MethodPost, "/odds/quiz/answer", map[string]int{"answer": choiceIndex}, &result)
	return result, err
}

func (c *RESTClient) AcceptChallenge(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/odds/challenge/accept", nil, nil)
}

func (c *RESTClient) DeclineChallenge(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/odds/challenge/decline", nil, nil)
}

// SubmitProof uploads evidence as multipart form data.
func (c *RESTClient) SubmitProof(ctx context.Context, input ProofInput) (ProofView, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if input.MediaType != "" {
		_ = writer.WriteField("media_type", input.MediaType)
	}
	if input.URL != "" {
		_ = writer.WriteField("media_url", input.URL)
	}
	if input.File != nil {
		part, err := writer.CreateFormFile("media", input.FileName)
		if err != nil {
			return ProofView{}, &Failure{Kind: FailureValidation, Err: err}
		}
		if _, err := io.Copy(part, input.File); err != nil {
			return ProofView{}, &Failure{Kind: FailureValidation, Err: err}
		}
	}
	if err := writer.Close(); err != nil {
		return ProofView{}, &Failure{Kind: FailureValidation, Err: err}
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/challenges/proof/submit", body)
	if err != nil {
		return ProofView{}, &Failure{Kind: FailureValidation, Err: err}
	}
	request.Header.Set("Authorization", "Bearer "+c.token)
	request.Header.Set("Content-Type", writer.FormDataContentType())

	var proof ProofView
	if err := c.send(request, &proof); err != nil {
		return ProofView{}, err
	}
	return proof, nil
}

func (c *RESTClient) Notifications(ctx context.Context, page, limit int) ([]Notification, int64, error) {
	var payload struct {
		Notifications []Notification `json:"notifications"`
		Total         int64          `json:"total"`
	}
	path := fmt.Sprintf("/notifications?page=%d&limit=%d", page, limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, 0, err
	}
	return payload.Notifications, payload.Total, nil
}

func (c *RESTClient) UnreadNotifications(ctx context.Context) ([]Notification, error) {
	var payload struct {
		Notifications []Notification `json:"notifications"`
	}
	if err := c.do(ctx, http.MethodGet, "/notifications/unread", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Notifications, nil
}

func (c *RESTClient) UnreadCount(ctx context.Context) (int64, error) {
	var payload struct {
		Count int64 `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/notifications/unread/count", nil, &payload); err != nil {
		return 0, err
	}
	return payload.Count, nil
}

func (c *RESTClient) MarkRead(ctx context.Context, notificationID string) error {
	return c.do(ctx, http.MethodPatch, "/notifications/"+notificationID+"/read", nil, nil)
}

func (c *RESTClient) MarkAllRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPatch, "/notifications/read-all", nil, nil)
}

func (c *RESTClient) DeleteNotification(ctx context.Context, notificationID string) error {
	return c.do(ctx, http.MethodDelete, "/notifications/"+notificationID, nil, nil)
}

func (c *RESTClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return &Failure{Kind: FailureValidation, Err: err}
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &Failure{Kind: FailureValidation, Err: err}
	}
	request.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	return c.send(request, out)
}

// send executes the request and maps the response onto the failure taxonomy:
// transport errors are NETWORK, 401 AUTH, 400 VALIDATION, 409 CONFLICT and
// every other non-2xx a REJECTION carrying the server's verbatim code.
func (c *RESTClient) send(request *http.Request, out interface{}) error {
	response, err := c.http.Do(request)
	if err != nil {
		return &Failure{Kind: FailureNetwork, Err: err}
	}
	defer response.Body.Close()

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(response.Body).Decode(out); err != nil {
			return &Failure{Kind: FailureNetwork, Err: err}
		}
		return nil
	}

	var payload struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(response.Body).Decode(&payload)

	failure := &Failure{Status: response.StatusCode, Code: payload.Error}
	switch {
	case response.StatusCode == http.StatusUnauthorized:
		failure.Kind = FailureAuth
	case response.StatusCode == http.StatusBadRequest:
		failure.Kind = FailureValidation
	case response.StatusCode == http.StatusConflict:
		failure.Kind = FailureConflict
	default:
		failure.Kind = FailureRejection
	}
	return failure
}

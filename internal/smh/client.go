// Package smh is the HTTP client for the ShowMyHomework API. It implements
// snapshot.Source.
package smh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	appLog "richter/internal/log"
	"richter/internal/model"
)

const (
	DefaultBaseURL   = "https://api.showmyhomework.co.uk/api"
	DefaultUserAgent = "richter (KHTML, like Gecko) Chrome Mozilla AppleWebKit"

	acceptHeader = "application/smhw.v3+json"
	maxBodyBytes = 32 << 20
)

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, without a trailing slash.
	BaseURL string
	// UserAgent is sent with every request.
	UserAgent string
	// Timeout bounds each HTTP request.
	Timeout time.Duration
	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// Client talks to the ShowMyHomework API.
type Client struct {
	http      *http.Client
	baseURL   string
	userAgent string
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		http:      hc,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Endpoint string
	Code     int
	Status   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %s", e.Endpoint, e.Status)
}

type schoolDTO struct {
	ID          int     `json:"id"`
	SchoolType  string  `json:"school_type"`
	Name        string  `json:"name"`
	Address     string  `json:"address"`
	Town        string  `json:"town"`
	PostCode    string  `json:"post_code"`
	Country     string  `json:"country"`
	Description string  `json:"description"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Twitter     string  `json:"twitter"`
	Website     string  `json:"website"`
}

type entryDTO struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	ClassName   string `json:"class_group_name"`
	YearName    string `json:"year"`
	SubjectName string `json:"subject"`
	TeacherID   int    `json:"teacher_id"`
	SchoolID    int    `json:"school_id"`
	IssuedOn    string `json:"issued_on"`
	DueOn       string `json:"due_on"`
}

type employeeDTO struct {
	ID       int    `json:"id"`
	Title    string `json:"title"`
	Forename string `json:"forename"`
	Surname  string `json:"surname"`
}

type namedDTO struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type classDTO struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	ClassYear string `json:"class_year"`
}

func (c *Client) Schools(ctx context.Context, subdomain string) ([]model.School, error) {
	var dtos []schoolDTO
	if err := c.list(ctx, "schools", url.Values{"subdomain": {subdomain}}, "schools", &dtos); err != nil {
		return nil, err
	}
	out := make([]model.School, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, model.School{
			ID:          d.ID,
			Subdomain:   subdomain,
			SchoolType:  d.SchoolType,
			Name:        d.Name,
			Address:     d.Address,
			Town:        d.Town,
			PostCode:    d.PostCode,
			Country:     d.Country,
			Description: d.Description,
			Latitude:    d.Latitude,
			Longitude:   d.Longitude,
			Twitter:     d.Twitter,
			Website:     d.Website,
		})
	}
	return out, nil
}

func (c *Client) Entries(ctx context.Context, subdomain string) ([]model.Entry, error) {
	var dtos []entryDTO
	if err := c.list(ctx, "calendars", url.Values{"subdomain": {subdomain}}, "calendars", &dtos); err != nil {
		return nil, err
	}
	out := make([]model.Entry, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, model.Entry{
			ID:          d.ID,
			Title:       d.Title,
			ClassName:   d.ClassName,
			YearName:    d.YearName,
			SubjectName: d.SubjectName,
			EmployeeID:  d.TeacherID,
			SchoolID:    d.SchoolID,
			Subdomain:   subdomain,
			Issued:      d.IssuedOn,
			Due:         d.DueOn,
		})
	}
	return out, nil
}

func (c *Client) Employees(ctx context.Context, schoolID int) ([]model.Employee, error) {
	var dtos []employeeDTO
	if err := c.list(ctx, "employees", schoolQuery(schoolID), "employees", &dtos); err != nil {
		return nil, err
	}
	out := make([]model.Employee, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, model.Employee(d))
	}
	return out, nil
}

func (c *Client) Subjects(ctx context.Context, schoolID int) ([]model.Subject, error) {
	var dtos []namedDTO
	if err := c.list(ctx, "subjects", schoolQuery(schoolID), "subjects", &dtos); err != nil {
		return nil, err
	}
	out := make([]model.Subject, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, model.Subject(d))
	}
	return out, nil
}

func (c *Client) Years(ctx context.Context, schoolID int) ([]model.Year, error) {
	var dtos []namedDTO
	if err := c.list(ctx, "class_years", schoolQuery(schoolID), "class_years", &dtos); err != nil {
		return nil, err
	}
	out := make([]model.Year, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, model.Year(d))
	}
	return out, nil
}

func (c *Client) Classes(ctx context.Context, schoolID int) ([]model.Class, error) {
	var dtos []classDTO
	if err := c.list(ctx, "class_groups", schoolQuery(schoolID), "class_groups", &dtos); err != nil {
		return nil, err
	}
	out := make([]model.Class, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, model.Class{ID: d.ID, Name: d.Name, YearName: d.ClassYear})
	}
	return out, nil
}

func schoolQuery(id int) url.Values {
	return url.Values{"school_id": {strconv.Itoa(id)}}
}

// list GETs endpoint and decodes the array stored under key into dst.
// A response without that array is an error.
func (c *Client) list(ctx context.Context, endpoint string, query url.Values, key string, dst any) error {
	u := c.baseURL + "/" + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	appLog.Debug("smh request start", "endpoint", endpoint, "query", query.Encode())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &StatusError{Endpoint: endpoint, Code: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%s: read body: %w", endpoint, err)
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("%s: decode response: %w", endpoint, err)
	}
	raw, ok := envelope[key]
	if !ok || string(raw) == "null" {
		return fmt.Errorf("%s: %w %q", endpoint, errMissingArray, key)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%s: decode %q: %w", endpoint, key, err)
	}

	appLog.Debug("smh request done", "endpoint", endpoint, "bytes", len(body), "elapsed", time.Since(start))
	return nil
}

var errMissingArray = errors.New("response has no array")

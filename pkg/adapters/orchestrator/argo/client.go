package argo

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultTokenFile     = "/var/run/secrets/kubernetes.io/serviceaccount/token"
	defaultNamespaceFile = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"
	defaultCAFile        = "/var/run/secrets/kubernetes.io/serviceaccount/ca.crt"
)

var (
	ErrNotFound      = errors.New("kubernetes resource not found")
	ErrAlreadyExists = errors.New("kubernetes resource already exists")
	ErrUnauthorized  = errors.New("kubernetes request unauthorized")
	ErrForbidden     = errors.New("kubernetes request forbidden")
)

type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("kubernetes api error (status=%d)", e.StatusCode)
	}
	return fmt.Sprintf("kubernetes api error (status=%d): %s", e.StatusCode, body)
}

// Config holds Kubernetes API connection settings. Empty fields fall back
// to the in-cluster service account.
type Config struct {
	APIServer string
	Token     string
	TokenFile string
	CAFile    string
	Namespace string
	Timeout   time.Duration
}

// Client talks to the Argo Workflows custom resources of one namespace
type Client struct {
	baseURL   string
	token     string
	namespace string
	http      *http.Client
	logger    *zap.Logger
}

// NewClient creates a new Argo Workflows client
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.APIServer), "/")
	if baseURL == "" {
		host := strings.TrimSpace(os.Getenv("KUBERNETES_SERVICE_HOST"))
		port := strings.TrimSpace(os.Getenv("KUBERNETES_SERVICE_PORT"))
		baseURL = "https://kubernetes.default.svc"
		if host != "" {
			if port == "" {
				port = "443"
			}
			baseURL = "https://" + host + ":" + port
		}
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		tokenFile := cfg.TokenFile
		if tokenFile == "" {
			tokenFile = defaultTokenFile
		}
		tokenBytes, err := os.ReadFile(tokenFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read serviceaccount token: %w", err)
		}
		token = strings.TrimSpace(string(tokenBytes))
		if token == "" {
			return nil, errors.New("serviceaccount token is empty")
		}
	}

	namespace := strings.TrimSpace(cfg.Namespace)
	if namespace == "" {
		namespaceBytes, err := os.ReadFile(defaultNamespaceFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read serviceaccount namespace: %w", err)
		}
		namespace = strings.TrimSpace(string(namespaceBytes))
		if namespace == "" {
			return nil, errors.New("serviceaccount namespace is empty")
		}
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if strings.HasPrefix(baseURL, "https://") {
		caFile := cfg.CAFile
		if caFile == "" && cfg.APIServer == "" {
			caFile = defaultCAFile
		}
		if caFile != "" {
			caBytes, err := os.ReadFile(caFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read ca bundle: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caBytes) {
				return nil, errors.New("invalid ca bundle")
			}
			transport.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		baseURL:   baseURL,
		token:     token,
		namespace: namespace,
		http: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		logger: logger,
	}, nil
}

// Namespace returns the namespace the client works in
func (c *Client) Namespace() string {
	return c.namespace
}

func (c *Client) path(resource, name string) string {
	p := fmt.Sprintf("/apis/argoproj.io/v1alpha1/namespaces/%s/%s", c.namespace, resource)
	if name != "" {
		p += "/" + url.PathEscape(name)
	}
	return p
}

// GetWorkflowTemplate returns ErrNotFound when the template does not exist
func (c *Client) GetWorkflowTemplate(ctx context.Context, name string) (*WorkflowTemplate, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("workflow template name is required")
	}
	var out WorkflowTemplate
	if err := c.request(ctx, http.MethodGet, c.path("workflowtemplates", name), "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ApplyWorkflowTemplate creates the template or replaces an existing one
func (c *Client) ApplyWorkflowTemplate(ctx context.Context, tmpl *WorkflowTemplate) error {
	tmpl.APIVersion = APIVersion
	tmpl.Kind = KindWorkflowTemplate
	tmpl.Metadata.Namespace = c.namespace

	err := c.request(ctx, http.MethodPost, c.path("workflowtemplates", ""), "", tmpl, nil)
	if !errors.Is(err, ErrAlreadyExists) {
		return err
	}

	existing, err := c.GetWorkflowTemplate(ctx, tmpl.Metadata.Name)
	if err != nil {
		return err
	}
	tmpl.Metadata.ResourceVersion = existing.Metadata.ResourceVersion
	c.logger.Debug("replacing workflow template",
		zap.String("name", tmpl.Metadata.Name),
		zap.String("resource_version", tmpl.Metadata.ResourceVersion))
	return c.request(ctx, http.MethodPut, c.path("workflowtemplates", tmpl.Metadata.Name), "", tmpl, nil)
}

// DeleteWorkflowTemplate removes a template
func (c *Client) DeleteWorkflowTemplate(ctx context.Context, name string) error {
	return c.request(ctx, http.MethodDelete, c.path("workflowtemplates", name), "", nil, nil)
}

// SubmitWorkflow creates a workflow and returns it with its generated name
func (c *Client) SubmitWorkflow(ctx context.Context, wf *Workflow) (*Workflow, error) {
	wf.APIVersion = APIVersion
	wf.Kind = KindWorkflow
	wf.Metadata.Namespace = c.namespace

	var out Workflow
	if err := c.request(ctx, http.MethodPost, c.path("workflows", ""), "", wf, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetWorkflow returns ErrNotFound when the workflow does not exist
func (c *Client) GetWorkflow(ctx context.Context, name string) (*Workflow, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("workflow name is required")
	}
	var out Workflow
	if err := c.request(ctx, http.MethodGet, c.path("workflows", name), "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListWorkflows returns the workflows matching a label selector
func (c *Client) ListWorkflows(ctx context.Context, labelSelector string) ([]Workflow, error) {
	p := c.path("workflows", "")
	if labelSelector != "" {
		p += "?labelSelector=" + url.QueryEscape(labelSelector)
	}
	var out WorkflowList
	if err := c.request(ctx, http.MethodGet, p, "", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// PatchWorkflow applies a JSON merge patch to a workflow
func (c *Client) PatchWorkflow(ctx context.Context, name string, patch interface{}) error {
	return c.request(ctx, http.MethodPatch, c.path("workflows", name), "application/merge-patch+json", patch, nil)
}

func (c *Client) request(ctx context.Context, method, path, contentType string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
		if contentType == "" {
			contentType = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return err
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to decode kubernetes response: %w", err)
		}
		return nil
	case http.StatusConflict:
		return ErrAlreadyExists
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	default:
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
}

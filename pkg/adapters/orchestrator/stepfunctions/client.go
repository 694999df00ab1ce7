package stepfunctions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sfn/types"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a state machine or execution does not exist
var ErrNotFound = errors.New("step functions resource not found")

// API is the subset of the Step Functions client used here
type API interface {
	CreateStateMachine(ctx context.Context, in *sfn.CreateStateMachineInput, optFns ...func(*sfn.Options)) (*sfn.CreateStateMachineOutput, error)
	UpdateStateMachine(ctx context.Context, in *sfn.UpdateStateMachineInput, optFns ...func(*sfn.Options)) (*sfn.UpdateStateMachineOutput, error)
	DeleteStateMachine(ctx context.Context, in *sfn.DeleteStateMachineInput, optFns ...func(*sfn.Options)) (*sfn.DeleteStateMachineOutput, error)
	ListStateMachines(ctx context.Context, in *sfn.ListStateMachinesInput, optFns ...func(*sfn.Options)) (*sfn.ListStateMachinesOutput, error)
	ListTagsForResource(ctx context.Context, in *sfn.ListTagsForResourceInput, optFns ...func(*sfn.Options)) (*sfn.ListTagsForResourceOutput, error)
	TagResource(ctx context.Context, in *sfn.TagResourceInput, optFns ...func(*sfn.Options)) (*sfn.TagResourceOutput, error)
	StartExecution(ctx context.Context, in *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
	StopExecution(ctx context.Context, in *sfn.StopExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StopExecutionOutput, error)
	DescribeExecution(ctx context.Context, in *sfn.DescribeExecutionInput, optFns ...func(*sfn.Options)) (*sfn.DescribeExecutionOutput, error)
	ListExecutions(ctx context.Context, in *sfn.ListExecutionsInput, optFns ...func(*sfn.Options)) (*sfn.ListExecutionsOutput, error)
}

// Config holds AWS connection settings
type Config struct {
	Region string
	// RoleARN is the IAM role state machines execute as
	RoleARN string
	// Endpoint overrides the service endpoint, for local emulators
	Endpoint string
}

// StateMachine is a deployed state machine with its tags
type StateMachine struct {
	ARN  string
	Name string
	Tags map[string]string
}

// Execution is one run of a state machine
type Execution struct {
	ARN       string
	Name      string
	Status    types.ExecutionStatus
	StartDate *time.Time
}

// Client manages the state machines of deployed flows
type Client struct {
	api     API
	roleARN string
	logger  *zap.Logger
}

// NewClient creates a client from the default AWS credential chain
func NewClient(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	api := sfn.NewFromConfig(awsCfg, func(o *sfn.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewClientWithAPI(api, cfg.RoleARN, logger), nil
}

// NewClientWithAPI wraps an existing Step Functions API
func NewClientWithAPI(api API, roleARN string, logger *zap.Logger) *Client {
	return &Client{
		api:     api,
		roleARN: roleARN,
		logger:  logger,
	}
}

// FindStateMachine looks up a state machine by name
func (c *Client) FindStateMachine(ctx context.Context, name string) (*StateMachine, error) {
	pages := sfn.NewListStateMachinesPaginator(c.api, &sfn.ListStateMachinesInput{})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list state machines: %w", err)
		}
		for _, item := range page.StateMachines {
			if aws.ToString(item.Name) != name {
				continue
			}
			arn := aws.ToString(item.StateMachineArn)
			tags, err := c.tags(ctx, arn)
			if err != nil {
				return nil, err
			}
			return &StateMachine{ARN: arn, Name: name, Tags: tags}, nil
		}
	}
	return nil, fmt.Errorf("%w: state machine %s", ErrNotFound, name)
}

func (c *Client) tags(ctx context.Context, arn string) (map[string]string, error) {
	out, err := c.api.ListTagsForResource(ctx, &sfn.ListTagsForResourceInput{ResourceArn: aws.String(arn)})
	if err != nil {
		return nil, fmt.Errorf("failed to list tags of %s: %w", arn, err)
	}
	tags := make(map[string]string, len(out.Tags))
	for _, t := range out.Tags {
		tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return tags, nil
}

func toTags(tags map[string]string) []types.Tag {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]types.Tag, 0, len(keys))
	for _, k := range keys {
		out = append(out, types.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	return out
}

// ApplyStateMachine creates the state machine or updates the existing one
// and returns its ARN
func (c *Client) ApplyStateMachine(ctx context.Context, name, definition string, tags map[string]string) (string, error) {
	existing, err := c.FindStateMachine(ctx, name)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", err
	}

	if existing == nil {
		out, err := c.api.CreateStateMachine(ctx, &sfn.CreateStateMachineInput{
			Name:       aws.String(name),
			Definition: aws.String(definition),
			RoleArn:    aws.String(c.roleARN),
			Tags:       toTags(tags),
		})
		if err != nil {
			return "", fmt.Errorf("failed to create state machine %s: %w", name, err)
		}
		c.logger.Info("state machine created", zap.String("name", name))
		return aws.ToString(out.StateMachineArn), nil
	}

	if _, err := c.api.UpdateStateMachine(ctx, &sfn.UpdateStateMachineInput{
		StateMachineArn: aws.String(existing.ARN),
		Definition:      aws.String(definition),
		RoleArn:         aws.String(c.roleARN),
	}); err != nil {
		return "", fmt.Errorf("failed to update state machine %s: %w", name, err)
	}
	if _, err := c.api.TagResource(ctx, &sfn.TagResourceInput{
		ResourceArn: aws.String(existing.ARN),
		Tags:        toTags(tags),
	}); err != nil {
		return "", fmt.Errorf("failed to tag state machine %s: %w", name, err)
	}
	c.logger.Info("state machine updated", zap.String("name", name))
	return existing.ARN, nil
}

// DeleteStateMachine removes a state machine
func (c *Client) DeleteStateMachine(ctx context.Context, arn string) error {
	if _, err := c.api.DeleteStateMachine(ctx, &sfn.DeleteStateMachineInput{StateMachineArn: aws.String(arn)}); err != nil {
		return fmt.Errorf("failed to delete state machine %s: %w", arn, err)
	}
	return nil
}

// StartExecution starts a named execution and returns its ARN
func (c *Client) StartExecution(ctx context.Context, stateMachineARN, name, input string) (string, error) {
	out, err := c.api.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(stateMachineARN),
		Name:            aws.String(name),
		Input:           aws.String(input),
	})
	if err != nil {
		return "", fmt.Errorf("failed to start execution %s: %w", name, err)
	}
	return aws.ToString(out.ExecutionArn), nil
}

// DescribeExecution returns ErrNotFound for executions that do not exist
func (c *Client) DescribeExecution(ctx context.Context, arn string) (*Execution, error) {
	out, err := c.api.DescribeExecution(ctx, &sfn.DescribeExecutionInput{ExecutionArn: aws.String(arn)})
	if err != nil {
		var missing *types.ExecutionDoesNotExist
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("%w: execution %s", ErrNotFound, arn)
		}
		return nil, fmt.Errorf("failed to describe execution %s: %w", arn, err)
	}
	return &Execution{
		ARN:       arn,
		Name:      aws.ToString(out.Name),
		Status:    out.Status,
		StartDate: out.StartDate,
	}, nil
}

// StopExecution aborts a running execution
func (c *Client) StopExecution(ctx context.Context, arn, cause string) error {
	_, err := c.api.StopExecution(ctx, &sfn.StopExecutionInput{
		ExecutionArn: aws.String(arn),
		Cause:        aws.String(cause),
	})
	if err != nil {
		var missing *types.ExecutionDoesNotExist
		if errors.As(err, &missing) {
			return fmt.Errorf("%w: execution %s", ErrNotFound, arn)
		}
		return fmt.Errorf("failed to stop execution %s: %w", arn, err)
	}
	return nil
}

// ListExecutions returns every execution of a state machine
func (c *Client) ListExecutions(ctx context.Context, stateMachineARN string) ([]Execution, error) {
	var executions []Execution
	pages := sfn.NewListExecutionsPaginator(c.api, &sfn.ListExecutionsInput{StateMachineArn: aws.String(stateMachineARN)})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list executions of %s: %w", stateMachineARN, err)
		}
		for _, item := range page.Executions {
			executions = append(executions, Execution{
				ARN:       aws.ToString(item.ExecutionArn),
				Name:      aws.ToString(item.Name),
				Status:    item.Status,
				StartDate: item.StartDate,
			})
		}
	}
	return executions, nil
}

// ExecutionARN derives the ARN of a named execution of a state machine
func ExecutionARN(stateMachineARN, name string) string {
	return strings.Replace(stateMachineARN, ":stateMachine:", ":execution:", 1) + ":" + name
}

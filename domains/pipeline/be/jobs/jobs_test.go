package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zenGate-Global/dappbot-ops/domains/dapps/be/repo"
	"github.com/zenGate-Global/dappbot-ops/domains/dapps/be/service"
	"github.com/zenGate-Global/dappbot-ops/platform/go/events"
	"github.com/zenGate-Global/dappbot-ops/platform/go/metrics"
	"github.com/zenGate-Global/dappbot-ops/platform/go/notify"
	"github.com/zenGate-Global/dappbot-ops/platform/go/retry"
)

func fastExecutor() *retry.Executor {
	return retry.New(retry.Policy{BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
}

type fakePipeline struct {
	mu          sync.Mutex
	completed   []string
	failed      map[string]string
	failType    types.FailureType
	completeErr error
}

func newFakePipeline() *fakePipeline { return &fakePipeline{failed: make(map[string]string)} }

func (p *fakePipeline) PutJobSuccessResult(ctx context.Context, in *codepipeline.PutJobSuccessResultInput, _ ...func(*codepipeline.Options)) (*codepipeline.PutJobSuccessResultOutput, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.completeErr != nil {
		return nil, p.completeErr
	}
	p.completed = append(p.completed, aws.ToString(in.JobId))
	return &codepipeline.PutJobSuccessResultOutput{}, nil
}

func (p *fakePipeline) PutJobFailureResult(ctx context.Context, in *codepipeline.PutJobFailureResultInput, _ ...func(*codepipeline.Options)) (*codepipeline.PutJobFailureResultOutput, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed[aws.ToString(in.JobId)] = aws.ToString(in.FailureDetails.Message)
	p.failType = in.FailureDetails.Type
	return &codepipeline.PutJobFailureResultOutput{}, nil
}

type fakeObjects struct {
	calls []string
	err   error
}

func (o *fakeObjects) MakeObjectNoCache(ctx context.Context, bucket, key string) error {
	o.calls = append(o.calls, bucket+"/"+key)
	return o.err
}

type fakeCDN struct {
	invalidated map[string][]string
}

func (c *fakeCDN) Invalidate(ctx context.Context, id string, paths []string) error {
	if c.invalidated == nil {
		c.invalidated = make(map[string][]string)
	}
	c.invalidated[id] = paths
	return nil
}

type fakeMailer struct {
	sent []notify.Confirmation
	err  error
}

func (m *fakeMailer) SendConfirmation(ctx context.Context, c notify.Confirmation) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, c)
	return nil
}

type completerFixture struct {
	completer *Completer
	pipeline  *fakePipeline
	dapps     *service.Service
	objects   *fakeObjects
	cdn       *fakeCDN
	mailer    *fakeMailer
	metrics   *metrics.Metrics
}

func newCompleterFixture(t *testing.T) *completerFixture {
	t.Helper()
	exec := fastExecutor()
	f := &completerFixture{
		pipeline: newFakePipeline(),
		dapps:    service.New(repo.NewMemoryRepository(), exec, 72*time.Hour, zap.NewNop()),
		objects:  &fakeObjects{},
		cdn:      &fakeCDN{},
		mailer:   &fakeMailer{},
		metrics:  metrics.New(prometheus.NewRegistry()),
	}
	f.completer = NewCompleter(Deps{
		Reporter: NewCodePipelineReporter(f.pipeline),
		Dapps:    f.dapps,
		Objects:  f.objects,
		CDN:      f.cdn,
		Mailer:   f.mailer,
		Exec:     exec,
		DNSRoot:  ".dapp.bot",
		Metrics:  f.metrics,
	})
	require.NoError(t, f.dapps.PutDapp(context.Background(), service.Dapp{
		Name:           "kitties",
		OwnerEmail:     "a@x.com",
		State:          service.StateBuilding,
		DistributionID: "E2KITTIES",
	}))
	return f
}

func (f *completerFixture) state(t *testing.T, name string) service.State {
	t.Helper()
	d, err := f.dapps.GetDapp(context.Background(), name)
	require.NoError(t, err)
	return d.State
}

var buildJob = events.BuildJob{JobID: "job-1", OwnerEmail: "a@x.com", DappName: "kitties", DestinationBucket: "kitties-site"}

func TestBuildJobCompletes(t *testing.T) {
	f := newCompleterFixture(t)

	require.NoError(t, f.completer.Run(context.Background(), buildJob))

	require.Equal(t, service.StateAvailable, f.state(t, "kitties"))
	require.Equal(t, []string{"kitties-site/index.html"}, f.objects.calls)
	require.Contains(t, f.cdn.invalidated, "E2KITTIES")
	require.Equal(t, []notify.Confirmation{{OwnerEmail: "a@x.com", DappName: "kitties", DNSName: "kitties.dapp.bot"}}, f.mailer.sent)
	require.Equal(t, []string{"job-1"}, f.pipeline.completed)
	require.Empty(t, f.pipeline.failed)
}

func TestBuildJobMailFailureFailsJobAndDapp(t *testing.T) {
	f := newCompleterFixture(t)
	f.mailer.err = retry.Permanent(errors.New("sendgrid: status 400"))

	err := f.completer.Run(context.Background(), buildJob)
	require.Error(t, err)

	require.Equal(t, service.StateFailed, f.state(t, "kitties"))
	require.Empty(t, f.pipeline.completed)
	require.Contains(t, f.pipeline.failed["job-1"], "sendgrid: status 400")
	require.Equal(t, types.FailureTypeJobFailed, f.pipeline.failType)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Jobs.WithLabelValues("POST_BUILD", "failure")))
	require.Equal(t, 0.0, testutil.ToFloat64(f.metrics.Jobs.WithLabelValues("POST_BUILD", "success")))
}

func TestBuildJobStorageFailureFailsDapp(t *testing.T) {
	f := newCompleterFixture(t)
	f.objects.err = retry.Permanent(errors.New("bucket not found"))

	require.Error(t, f.completer.Run(context.Background(), buildJob))
	require.Equal(t, service.StateFailed, f.state(t, "kitties"))
	require.Empty(t, f.mailer.sent)
	require.Contains(t, f.pipeline.failed, "job-1")
}

func TestBuildJobCompleteSignalFailureFailsDapp(t *testing.T) {
	f := newCompleterFixture(t)
	f.pipeline.completeErr = &types.InvalidJobStateException{Message: aws.String("job already completed")}

	require.Error(t, f.completer.Run(context.Background(), buildJob))
	require.Equal(t, service.StateFailed, f.state(t, "kitties"))
	require.Contains(t, f.pipeline.failed, "job-1")
}

func TestBuildJobForUnknownDappStillFailsJob(t *testing.T) {
	f := newCompleterFixture(t)
	job := buildJob
	job.DappName = "ghost"

	err := f.completer.Run(context.Background(), job)
	require.ErrorIs(t, err, service.ErrNotFound)
	require.Contains(t, f.pipeline.failed, "job-1")
}

func TestInvalidateJob(t *testing.T) {
	f := newCompleterFixture(t)
	ctx := context.Background()

	job := events.InvalidateJob{JobID: "job-2", DappName: "kitties", Paths: []string{"/index.html"}}
	require.NoError(t, f.completer.Run(ctx, job))
	require.Equal(t, []string{"/index.html"}, f.cdn.invalidated["E2KITTIES"])
	require.Equal(t, []string{"job-2"}, f.pipeline.completed)
	require.Equal(t, service.StateBuilding, f.state(t, "kitties"))
}

func TestInvalidateJobWithoutDistributionLeavesDappAlone(t *testing.T) {
	f := newCompleterFixture(t)
	ctx := context.Background()
	require.NoError(t, f.dapps.PutDapp(ctx, service.Dapp{Name: "plain", OwnerEmail: "a@x.com", State: service.StateAvailable}))

	err := f.completer.Run(ctx, events.InvalidateJob{JobID: "job-3", DappName: "plain"})
	require.ErrorIs(t, err, ErrNoDistribution)
	require.Contains(t, f.pipeline.failed, "job-3")
	require.Equal(t, service.StateAvailable, f.state(t, "plain"))
}

func TestFailJobTruncatesLongMessages(t *testing.T) {
	p := newFakePipeline()
	r := NewCodePipelineReporter(p)

	require.NoError(t, r.FailJob(context.Background(), "job-4", errors.New(strings.Repeat("x", failureMessageLimit+10))))
	require.Len(t, p.failed["job-4"], failureMessageLimit)
}

func TestFailJobTruncatesOnRuneBoundary(t *testing.T) {
	p := newFakePipeline()
	r := NewCodePipelineReporter(p)

	// "é" is two bytes, so byte failureMessageLimit lands inside a rune.
	long := "x" + strings.Repeat("é", failureMessageLimit)
	require.NoError(t, r.FailJob(context.Background(), "job-5", errors.New(long)))

	msg := p.failed["job-5"]
	require.True(t, utf8.ValidString(msg))
	require.Len(t, msg, failureMessageLimit-1)
	require.True(t, strings.HasPrefix(long, msg))
}

func TestConstructorsRequireExecutor(t *testing.T) {
	require.PanicsWithValue(t, "retry executor is required", func() { NewCompleter(Deps{}) })
	require.PanicsWithValue(t, "retry executor is required", func() {
		NewDispatcher(&fakeQueue{}, "https://sqs.example/queue", nil, nil, nil)
	})
}

type fakeQueue struct {
	mu     sync.Mutex
	bodies []string
	reject map[string]bool
}

func (q *fakeQueue) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	var req DeletionRequest
	if err := json.Unmarshal([]byte(aws.ToString(in.MessageBody)), &req); err != nil {
		return nil, err
	}
	if q.reject[req.ResourceName] {
		return nil, retry.Permanent(errors.New("queue does not exist"))
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.bodies = append(q.bodies, aws.ToString(in.MessageBody))
	return &sqs.SendMessageOutput{MessageId: aws.String("m-" + req.ResourceName)}, nil
}

func TestDispatchDeletionsSendsOneEnvelopePerDapp(t *testing.T) {
	q := &fakeQueue{}
	m := metrics.New(prometheus.NewRegistry())
	d := NewDispatcher(q, "https://sqs.example/queue", fastExecutor(), m, nil)

	require.NoError(t, d.DispatchDeletions(context.Background(), []string{"one", "two"}))
	require.ElementsMatch(t, []string{
		`{"method":"delete","resourceName":"one"}`,
		`{"method":"delete","resourceName":"two"}`,
	}, q.bodies)
	require.Equal(t, 2.0, testutil.ToFloat64(m.DeletionsDispatched))
}

func TestDispatchDeletionsIsolatesFailures(t *testing.T) {
	q := &fakeQueue{reject: map[string]bool{"bad": true}}
	d := NewDispatcher(q, "https://sqs.example/queue", fastExecutor(), nil, nil)

	err := d.DispatchDeletions(context.Background(), []string{"good", "bad", "also-good"})
	require.ErrorContains(t, err, "dispatch deletion of bad")
	require.Len(t, q.bodies, 2)
}

func TestDispatchDeletionsWithNoDapps(t *testing.T) {
	q := &fakeQueue{}
	d := NewDispatcher(q, "https://sqs.example/queue", fastExecutor(), nil, nil)
	require.NoError(t, d.DispatchDeletions(context.Background(), nil))
	require.Empty(t, q.bodies)
}

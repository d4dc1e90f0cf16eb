package resource

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/faceforge/orchestrator/common/gerror"
)

const (
	gpuResourceName     = "gpu"
	ffmpegResourceName  = "ffmpeg"
	defaultGPUTimeout    = time.Hour
)

// ResourceLimits bounds how many jobs may concurrently hold each kind of scarce resource.
type ResourceLimits struct {
	MaxGPUJobs         int
	MaxCPUWorkers      int
	MaxFFmpegProcesses int
	GPUTimeout         time.Duration
}

// DefaultResourceLimits matches the single-GPU, four-worker, two-ffmpeg-process ceiling a
// typical media processing host is provisioned with.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		MaxGPUJobs:         1,
		MaxCPUWorkers:      4,
		MaxFFmpegProcesses: 2,
		GPUTimeout:         defaultGPUTimeout,
	}
}

// Status is a snapshot of resource availability, exposed for operational introspection.
type Status struct {
	GPUAvailable      int        `json:"gpu_available"`
	GPUCapacity       int        `json:"gpu_capacity"`
	FFmpegAvailable   int        `json:"ffmpeg_available"`
	FFmpegCapacity    int        `json:"ffmpeg_capacity"`
	CPUWorkers        int        `json:"cpu_workers"`
	ActiveJobs        []string   `json:"active_jobs"`
}

// ResourceManager arbitrates access to scarce resources (GPU slots, ffmpeg process slots)
// across concurrently running jobs using counting semaphores, and tracks which jobs hold
// which resources so they can all be released together if a job is abandoned.
type ResourceManager struct {
	limits ResourceLimits
	clock  clock.Clock

	gpuSem    chan struct{}
	ffmpegSem chan struct{}

	mu           sync.Mutex
	jobResources map[string]map[string]struct{}
}

// NewResourceManager constructs a ResourceManager with the given limits. Pass nil for clk to
// use the real wall clock; tests supply a clock.Mock to make timeouts deterministic.
func NewResourceManager(limits ResourceLimits, clk clock.Clock) *ResourceManager {
	if clk == nil {
		clk = clock.New()
	}
	return &ResourceManager{
		limits:       limits,
		clock:        clk,
		gpuSem:       make(chan struct{}, limits.MaxGPUJobs),
		ffmpegSem:    make(chan struct{}, limits.MaxFFmpegProcesses),
		jobResources: make(map[string]map[string]struct{}),
	}
}

// AcquireGPU blocks until a GPU slot is available for jobID, ctx is canceled, or the
// configured GPU timeout elapses (whichever comes first). The returned release function must
// be called exactly once to free the slot; callers typically `defer release()` around the
// entire pipeline invocation, since GPU acquisition wraps the whole run, not a sub-phase.
func (m *ResourceManager) AcquireGPU(ctx context.Context, jobID string) (func(), error) {
	return m.acquire(ctx, m.gpuSem, gpuResourceName, jobID, m.limits.GPUTimeout)
}

// AcquireFFmpeg blocks until an ffmpeg process slot is available for jobID, subject to the
// same ctx/timeout semantics as AcquireGPU.
func (m *ResourceManager) AcquireFFmpeg(ctx context.Context, jobID string) (func(), error) {
	return m.acquire(ctx, m.ffmpegSem, ffmpegResourceName, jobID, m.limits.GPUTimeout)
}

func (m *ResourceManager) acquire(ctx context.Context, sem chan struct{}, resourceName, jobID string, timeout time.Duration) (func(), error) {
	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := m.clock.Timer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case sem <- struct{}{}:
		m.recordAcquired(jobID, resourceName)
		released := false
		release := func() {
			if released {
				return
			}
			released = true
			<-sem
			m.recordReleased(jobID, resourceName)
		}
		return release, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeoutC:
		return nil, gerror.NewErrTimeout(fmt.Sprintf("waiting for %s resource for job %s", resourceName, jobID))
	}
}

func (m *ResourceManager) recordAcquired(jobID, resourceName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.jobResources[jobID] == nil {
		m.jobResources[jobID] = make(map[string]struct{})
	}
	m.jobResources[jobID][resourceName] = struct{}{}
}

func (m *ResourceManager) recordReleased(jobID, resourceName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if res, ok := m.jobResources[jobID]; ok {
		delete(res, resourceName)
		if len(res) == 0 {
			delete(m.jobResources, jobID)
		}
	}
}

// ReleaseAll releases every semaphore slot currently recorded as held by jobID. Used when a
// job is abandoned (e.g. after a crash-recovery reconciliation) to guarantee its resources
// aren't leaked for the lifetime of the process.
func (m *ResourceManager) ReleaseAll(jobID string) {
	m.mu.Lock()
	held := m.jobResources[jobID]
	delete(m.jobResources, jobID)
	m.mu.Unlock()

	for resourceName := range held {
		switch resourceName {
		case gpuResourceName:
			<-m.gpuSem
		case ffmpegResourceName:
			<-m.ffmpegSem
		}
	}
}

// CPUWorkerCount returns the number of CPU worker slots the orchestrator's pool should be
// sized to: the configured maximum, capped by the number of logical CPUs actually available.
func (m *ResourceManager) CPUWorkerCount() int {
	if n := runtime.NumCPU(); n < m.limits.MaxCPUWorkers {
		return n
	}
	return m.limits.MaxCPUWorkers
}

// Status returns a snapshot of current resource availability and which jobs hold resources.
func (m *ResourceManager) Status() Status {
	m.mu.Lock()
	activeJobs := make([]string, 0, len(m.jobResources))
	for jobID := range m.jobResources {
		activeJobs = append(activeJobs, jobID)
	}
	m.mu.Unlock()

	return Status{
		GPUAvailable:    m.limits.MaxGPUJobs - len(m.gpuSem),
		GPUCapacity:     m.limits.MaxGPUJobs,
		FFmpegAvailable: m.limits.MaxFFmpegProcesses - len(m.ffmpegSem),
		FFmpegCapacity:  m.limits.MaxFFmpegProcesses,
		CPUWorkers:      m.CPUWorkerCount(),
		ActiveJobs:      activeJobs,
	}
}

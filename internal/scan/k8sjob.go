package scan

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	sigsyaml "sigs.k8s.io/yaml"

	"github.com/marcus-qen/legator/internal/config"
	"github.com/marcus-qen/legator/internal/registry"
	"github.com/marcus-qen/legator/internal/telemetry"
)

// JobRunner submits and observes scan workloads. It is implemented by
// k8sJobRunner against a live cluster, and is the seam tests substitute
// with a fake to avoid a client-go dependency in unit tests.
type JobRunner interface {
	Submit(ctx context.Context, scanID string, server *registry.Server) (name string, err error)
	Status(ctx context.Context, name string) (JobStatus, error)
	Logs(ctx context.Context, name string) (string, error)
	Delete(ctx context.Context, name string) error
}

// k8sJobRunner runs scans as Kubernetes batch/v1 Jobs in a dedicated
// namespace, one Job per scan, named deterministically from the scan id
// so reconciliation survives orchestrator restarts (spec §4.C, §5).
type k8sJobRunner struct {
	client kubernetes.Interface
	cfg    config.ScannerConfig
	logger *zap.Logger
}

// NewK8sJobRunner builds a JobRunner backed by client.
func NewK8sJobRunner(client kubernetes.Interface, cfg config.ScannerConfig, logger *zap.Logger) JobRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &k8sJobRunner{client: client, cfg: cfg, logger: logger}
}

func scanCommand(sourceType registry.SourceType, desc Descriptor) []string {
	var cmd []string
	switch sourceType {
	case registry.SourceExternalRepo, registry.SourceInternalRepo:
		cmd = []string{"/scanner", "clone-and-scan"}
	case registry.SourceContainerImage:
		cmd = []string{"/scanner", "pull-and-scan"}
	case registry.SourcePackageArtifact:
		cmd = []string{"/scanner", "fetch-and-scan"}
	default:
		cmd = []string{"/scanner", "scan"}
	}
	// spec §4.C: additionally run the scanner against the live endpoint
	// when dynamic testing is enabled and the server declares one.
	if desc.DynamicTestingEnabled {
		cmd = append(cmd, "--dynamic-test-endpoint", desc.TestEndpoint)
	}
	return cmd
}

func quantity(v string, fallback string) resource.Quantity {
	if v == "" {
		v = fallback
	}
	q, err := resource.ParseQuantity(v)
	if err != nil {
		q = resource.MustParse(fallback)
	}
	return q
}

func (r *k8sJobRunner) Submit(ctx context.Context, scanID string, server *registry.Server) (string, error) {
	ctx, span := telemetry.StartScanSpan(ctx, server.CanonicalID, string(server.SourceType))
	var submittedName string
	var submitErr error
	defer func() { telemetry.EndScanSpan(span, submittedName, submitErr) }()

	if err := validateSourceRef(server.SourceType, server.SourceURL); err != nil {
		submitErr = fmt.Errorf("validate source reference: %w", err)
		return "", submitErr
	}

	name := jobName(scanID)
	desc := NewDescriptor(server, r.cfg)
	encoded, err := desc.EncodeEnv()
	if err != nil {
		submitErr = fmt.Errorf("encode scan descriptor: %w", err)
		return "", submitErr
	}

	backoffLimit := int32(0) // the orchestrator owns retries, not the scheduler
	ttl := r.cfg.TTLSecondsAfterDone
	if ttl == 0 {
		ttl = 3600
	}
	runAsNonRoot := true
	allowPrivilegeEscalation := false
	readOnlyRootFS := true
	var runAsUser int64 = 65532

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: r.cfg.JobNamespace,
			Labels: map[string]string{
				"app.kubernetes.io/managed-by": "governor",
				"governor.io/scan-id":          scanID,
			},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            &backoffLimit,
			TTLSecondsAfterFinished: &ttl,
			ActiveDeadlineSeconds:   int64Ptr(int64(r.cfg.TimeoutSeconds)),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: map[string]string{"governor.io/scan-id": scanID},
				},
				Spec: corev1.PodSpec{
					RestartPolicy:      corev1.RestartPolicyNever,
					ServiceAccountName: r.cfg.JobServiceAccount,
					SecurityContext: &corev1.PodSecurityContext{
						RunAsNonRoot: &runAsNonRoot,
						RunAsUser:    &runAsUser,
					},
					Containers: []corev1.Container{
						{
							Name:    "scanner",
							Image:   r.cfg.Image,
							Command: scanCommand(server.SourceType, desc),
							Env: []corev1.EnvVar{
								{Name: descriptorEnvVar, Value: encoded},
							},
							Resources: corev1.ResourceRequirements{
								Requests: corev1.ResourceList{
									corev1.ResourceCPU:    quantity(r.cfg.CPURequest, "250m"),
									corev1.ResourceMemory: quantity(r.cfg.MemoryRequest, "256Mi"),
								},
								Limits: corev1.ResourceList{
									corev1.ResourceCPU:    quantity(r.cfg.CPULimit, "1"),
									corev1.ResourceMemory: quantity(r.cfg.MemoryLimit, "1Gi"),
								},
							},
							SecurityContext: &corev1.SecurityContext{
								AllowPrivilegeEscalation: &allowPrivilegeEscalation,
								ReadOnlyRootFilesystem:   &readOnlyRootFS,
								Capabilities: &corev1.Capabilities{
									Drop: []corev1.Capability{"ALL"},
								},
							},
						},
					},
				},
			},
		},
	}

	if manifest, yamlErr := sigsyaml.Marshal(job); yamlErr == nil {
		r.logger.Debug("submitting scan job", zap.String("name", name), zap.String("manifest", string(manifest)))
	}

	_, err = r.client.BatchV1().Jobs(r.cfg.JobNamespace).Create(ctx, job, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		submittedName = name
		return name, nil
	}
	if err != nil {
		submitErr = fmt.Errorf("create scan job: %w", err)
		return "", submitErr
	}
	submittedName = name
	return name, nil
}

func (r *k8sJobRunner) Status(ctx context.Context, name string) (JobStatus, error) {
	job, err := r.client.BatchV1().Jobs(r.cfg.JobNamespace).Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return JobStatus{Phase: JobNotFound}, nil
	}
	if err != nil {
		return JobStatus{}, err
	}

	for _, cond := range job.Status.Conditions {
		if cond.Status != corev1.ConditionTrue {
			continue
		}
		switch cond.Type {
		case batchv1.JobComplete:
			return JobStatus{Phase: JobSucceeded}, nil
		case batchv1.JobFailed:
			return JobStatus{Phase: JobFailed}, nil
		}
	}
	if job.Status.Succeeded > 0 {
		return JobStatus{Phase: JobSucceeded}, nil
	}
	if job.Status.Failed > 0 && job.Spec.BackoffLimit != nil && job.Status.Failed > *job.Spec.BackoffLimit {
		return JobStatus{Phase: JobFailed}, nil
	}
	return JobStatus{Phase: JobRunning}, nil
}

// Logs returns the scanner container's stdout from the job's single pod,
// which is expected to hold the JSON report described in spec §4.C.
func (r *k8sJobRunner) Logs(ctx context.Context, name string) (string, error) {
	pods, err := r.client.CoreV1().Pods(r.cfg.JobNamespace).List(ctx, metav1.ListOptions{
		LabelSelector: "job-name=" + name,
	})
	if err != nil {
		return "", err
	}
	if len(pods.Items) == 0 {
		return "", fmt.Errorf("no pods found for scan job %s", name)
	}
	pod := pods.Items[len(pods.Items)-1]
	req := r.client.CoreV1().Pods(r.cfg.JobNamespace).GetLogs(pod.Name, &corev1.PodLogOptions{Container: "scanner"})
	stream, err := req.Stream(ctx)
	if err != nil {
		return "", err
	}
	defer stream.Close()
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, readErr := stream.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if readErr != nil {
			break
		}
	}
	return string(buf), nil
}

func (r *k8sJobRunner) Delete(ctx context.Context, name string) error {
	propagation := metav1.DeletePropagationBackground
	err := r.client.BatchV1().Jobs(r.cfg.JobNamespace).Delete(ctx, name, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	if apierrors.IsNotFound(err) {
		return nil
	}
	return err
}

func int64Ptr(v int64) *int64 { return &v }

package launcher

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zhenhua32/mindformers/internal/job"
)

func mpiJob() *job.Job {
	return &job.Job{
		ID:         "gpt-13b-aaaa1111",
		Mode:       job.ModeMPI,
		RankSize:   16,
		Entrypoint: []string{"python3", "run_mindformer.py", "--config", "gpt.yaml"},
		Env:        []string{"HCCL_CONNECT_TIMEOUT=600"},
	}
}

func TestBuildMPIArgs(t *testing.T) {
	args := BuildMPIArgs(mpiJob(), "/etc/hostfile", "/var/log/gpt", []string{"GLOG_v"})

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "--allow-run-as-root")
	assert.Contains(t, joined, "-n 16")
	assert.Contains(t, joined, "--hostfile /etc/hostfile")
	assert.Contains(t, joined, "--output-filename /var/log/gpt")
	assert.Contains(t, joined, "--merge-stderr-to-stdout")
	assert.Contains(t, joined, "-x GLOG_v")

	// Entrypoint comes last, untouched.
	assert.Equal(t, []string{"python3", "run_mindformer.py", "--config", "gpt.yaml"}, args[len(args)-4:])
}

func TestBuildMPIArgsNoHostfile(t *testing.T) {
	args := BuildMPIArgs(mpiJob(), "", "/var/log/gpt", nil)
	assert.NotContains(t, strings.Join(args, " "), "--hostfile")
}

func TestForwardKeys(t *testing.T) {
	keys := ForwardKeys(mpiJob())
	assert.Contains(t, keys, "GLOG_v")
	assert.Contains(t, keys, "ASCEND_GLOBAL_LOG_LEVEL")
	assert.Contains(t, keys, "HCCL_CONNECT_TIMEOUT")
}

func TestCommandLine(t *testing.T) {
	line := CommandLine(mpiJob(), "/etc/hostfile", "/var/log/gpt")
	assert.True(t, strings.HasPrefix(line, "mpirun --allow-run-as-root -n 16"))
	assert.True(t, strings.HasSuffix(line, "python3 run_mindformer.py --config gpt.yaml"))
}

// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package vm implements the Remote VM Worker Transport (C2.3): one EC2
// instance per task, reached over SSH, with teardown of every per-task
// network resource it provisions.
package vm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"golang.org/x/crypto/ssh"

	"github.com/tombee/taskbench/internal/dataset"
	"github.com/tombee/taskbench/internal/secrets"
	"github.com/tombee/taskbench/internal/transport"
	taskbencherrors "github.com/tombee/taskbench/pkg/errors"
)

// Transport provisions workers as EC2 instances reached over SSH.
type Transport struct {
	client    *ec2.Client
	cfg       Config
	runDirFor func(taskID string) (string, error)
	logger    *slog.Logger
	retry     backoff
}

// New creates a VM Transport against the given EC2 client.
func New(client *ec2.Client, cfg Config, runDirFor func(taskID string) (string, error), logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		client:    client,
		cfg:       cfg,
		runDirFor: runDirFor,
		logger:    logger,
		retry:     defaultBackoff(),
	}
}

// handle is the VM transport's worker handle.
type handle struct {
	taskID             string
	instanceID         string
	networkInterfaceID string
	allocationID       string
	associationID      string
	publicIP           string
	sshClient          *ssh.Client
	remoteAgentDir     string
	remoteStagingDir   string
}

func (h *handle) TaskID() string { return h.taskID }

// sshPassphrase looks up the passphrase protecting cfg.SSHPrivateKeyPath in
// the operator's OS keychain under "ssh-key:<KeyName>". Unencrypted keys,
// and environments with no keychain service (headless CI runners), both
// resolve to an empty passphrase rather than an error.
func sshPassphrase(ctx context.Context, keyName string) string {
	if keyName == "" {
		return ""
	}
	backend := secrets.NewKeychainBackend()
	passphrase, err := backend.Get(ctx, "ssh-key:"+keyName)
	if err != nil {
		return ""
	}
	return passphrase
}

var _ transport.Transport = (*Transport)(nil)

// Prepare launches a VM, attaches a pre-created security group and a fresh
// network interface with a static public address, waits for the VM's
// first-boot sentinel, then transfers the agent directory and a staging
// directory containing input.json/args.json over SSH.
func (t *Transport) Prepare(ctx context.Context, runID string, task dataset.Task, spec dataset.AgentSpec) (transport.Handle, error) {
	h := &handle{taskID: task.TaskID}

	if err := t.retry.run(ctx, func() error { return t.provisionNetwork(ctx, h) }); err != nil {
		return nil, &taskbencherrors.TransportError{Mode: "vm", TaskID: task.TaskID, Stage: "prepare", Cause: err}
	}

	if err := t.retry.run(ctx, func() error { return t.launchInstance(ctx, h) }); err != nil {
		t.teardownNetwork(ctx, h)
		return nil, &taskbencherrors.TransportError{Mode: "vm", TaskID: task.TaskID, Stage: "prepare", Cause: err}
	}

	if err := t.waitForPublicIP(ctx, h); err != nil {
		t.Teardown(ctx, h)
		return nil, &taskbencherrors.TransportError{Mode: "vm", TaskID: task.TaskID, Stage: "prepare", Cause: err}
	}

	if err := t.waitForBoot(ctx, h); err != nil {
		t.Teardown(ctx, h)
		return nil, &taskbencherrors.TransportError{Mode: "vm", TaskID: task.TaskID, Stage: "prepare", Cause: err}
	}

	client, err := dialSSH(h.publicIP+":22", t.cfg.SSHUser, t.cfg.SSHPrivateKeyPath, sshPassphrase(ctx, t.cfg.KeyName), 30*time.Second)
	if err != nil {
		t.Teardown(ctx, h)
		return nil, &taskbencherrors.TransportError{Mode: "vm", TaskID: task.TaskID, Stage: "prepare", Cause: err}
	}
	h.sshClient = client

	h.remoteAgentDir = t.cfg.homeDir() + "/agent"
	h.remoteStagingDir = t.cfg.homeDir() + "/staging"

	if err := t.retry.run(ctx, func() error { return sendTree(client, spec.Directory, h.remoteAgentDir) }); err != nil {
		t.Teardown(ctx, h)
		return nil, &taskbencherrors.TransportError{Mode: "vm", TaskID: task.TaskID, Stage: "prepare", Cause: err}
	}

	staging, err := os.MkdirTemp("", "taskbench-staging-*")
	if err != nil {
		t.Teardown(ctx, h)
		return nil, &taskbencherrors.TransportError{Mode: "vm", TaskID: task.TaskID, Stage: "prepare", Cause: err}
	}
	defer os.RemoveAll(staging)

	if err := writeStagingFiles(staging, task, spec); err != nil {
		t.Teardown(ctx, h)
		return nil, &taskbencherrors.TransportError{Mode: "vm", TaskID: task.TaskID, Stage: "prepare", Cause: err}
	}

	if err := t.retry.run(ctx, func() error { return sendTree(client, staging, h.remoteStagingDir) }); err != nil {
		t.Teardown(ctx, h)
		return nil, &taskbencherrors.TransportError{Mode: "vm", TaskID: task.TaskID, Stage: "prepare", Cause: err}
	}

	// The runner script resolves input.json/args.json relative to its own
	// working directory, so fold the staging tree into the agent directory
	// after both transfers land (mirrors what local/container mode do by
	// writing straight into the worker root).
	if _, err := runRemote(client, fmt.Sprintf("cp -r %s/. %s/", h.remoteStagingDir, h.remoteAgentDir)); err != nil {
		t.Teardown(ctx, h)
		return nil, &taskbencherrors.TransportError{Mode: "vm", TaskID: task.TaskID, Stage: "prepare", Cause: err}
	}

	return h, nil
}

func writeStagingFiles(dir string, task dataset.Task, spec dataset.AgentSpec) error {
	inputJSON, err := json.Marshal(map[string]any{task.TaskID: task.Payload})
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "input.json"), inputJSON, 0o644); err != nil {
		return err
	}

	argsJSON, err := json.Marshal(spec.Args)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "args.json"), argsJSON, 0o644)
}

// provisionNetwork creates the per-task network interface the instance
// launches with.
func (t *Transport) provisionNetwork(ctx context.Context, h *handle) error {
	out, err := t.client.CreateNetworkInterface(ctx, &ec2.CreateNetworkInterfaceInput{
		SubnetId: aws.String(t.cfg.SubnetID),
		Groups:   []string{t.cfg.SecurityGroupID},
	})
	if err != nil {
		return fmt.Errorf("creating network interface: %w", err)
	}
	h.networkInterfaceID = aws.ToString(out.NetworkInterface.NetworkInterfaceId)
	return nil
}

// launchInstance starts the VM attached to the handle's network interface.
func (t *Transport) launchInstance(ctx context.Context, h *handle) error {
	out, err := t.client.RunInstances(ctx, &ec2.RunInstancesInput{
		ImageId:      aws.String(t.cfg.ImageID),
		InstanceType: types.InstanceType(t.cfg.InstanceType),
		KeyName:      aws.String(t.cfg.KeyName),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		NetworkInterfaces: []types.InstanceNetworkInterfaceSpecification{
			{
				NetworkInterfaceId: aws.String(h.networkInterfaceID),
				DeviceIndex:        aws.Int32(0),
			},
		},
		TagSpecifications: []types.TagSpecification{
			{
				ResourceType: types.ResourceTypeInstance,
				Tags: []types.Tag{
					{Key: aws.String("taskbench:task"), Value: aws.String(h.taskID)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("launching instance: %w", err)
	}
	if len(out.Instances) == 0 {
		return fmt.Errorf("launching instance: no instances returned")
	}
	h.instanceID = aws.ToString(out.Instances[0].InstanceId)
	return nil
}

// waitForPublicIP allocates and associates a static public address, then
// polls DescribeInstances until the instance is in the running state.
func (t *Transport) waitForPublicIP(ctx context.Context, h *handle) error {
	addr, err := t.client.AllocateAddress(ctx, &ec2.AllocateAddressInput{
		Domain: types.DomainTypeVpc,
	})
	if err != nil {
		return fmt.Errorf("allocating public address: %w", err)
	}
	h.allocationID = aws.ToString(addr.AllocationId)
	h.publicIP = aws.ToString(addr.PublicIp)

	assoc, err := t.client.AssociateAddress(ctx, &ec2.AssociateAddressInput{
		AllocationId:       addr.AllocationId,
		NetworkInterfaceId: aws.String(h.networkInterfaceID),
	})
	if err != nil {
		return fmt.Errorf("associating public address: %w", err)
	}
	h.associationID = aws.ToString(assoc.AssociationId)

	deadline := time.Now().Add(2 * time.Minute)
	for time.Now().Before(deadline) {
		out, err := t.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			InstanceIds: []string{h.instanceID},
		})
		if err == nil {
			for _, res := range out.Reservations {
				for _, inst := range res.Instances {
					if inst.State != nil && inst.State.Name == types.InstanceStateNameRunning {
						return nil
					}
				}
			}
		}
		time.Sleep(5 * time.Second)
	}
	return fmt.Errorf("timed out waiting for instance %s to reach running state", h.instanceID)
}

// waitForBoot polls for BootSentinelPath over SSH, per spec's ~10 minute
// hard first-boot timeout.
func (t *Transport) waitForBoot(ctx context.Context, h *handle) error {
	deadline := time.Now().Add(t.cfg.bootTimeout())
	var lastErr error

	for time.Now().Before(deadline) {
		client, err := dialSSH(h.publicIP+":22", t.cfg.SSHUser, t.cfg.SSHPrivateKeyPath, sshPassphrase(ctx, t.cfg.KeyName), 10*time.Second)
		if err != nil {
			lastErr = err
			time.Sleep(5 * time.Second)
			continue
		}
		ready, err := pathExists(client, BootSentinelPath)
		client.Close()
		if err != nil {
			lastErr = err
		} else if ready {
			return nil
		}
		time.Sleep(5 * time.Second)
	}
	return fmt.Errorf("timed out waiting for boot sentinel on %s: %v", h.publicIP, lastErr)
}

// Start launches the runner script over SSH, detached from the control
// channel, with stdout/stderr redirected to TracePath.
func (t *Transport) Start(ctx context.Context, h transport.Handle, scriptName string, script []byte) error {
	vh := h.(*handle)

	session, err := vh.sshClient.NewSession()
	if err != nil {
		return &taskbencherrors.TransportError{Mode: "vm", TaskID: vh.taskID, Stage: "start", Cause: err}
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return &taskbencherrors.TransportError{Mode: "vm", TaskID: vh.taskID, Stage: "start", Cause: err}
	}
	scriptPath := vh.remoteAgentDir + "/" + scriptName
	if err := session.Start(fmt.Sprintf("cat > %s", scriptPath)); err != nil {
		session.Close()
		return &taskbencherrors.TransportError{Mode: "vm", TaskID: vh.taskID, Stage: "start", Cause: err}
	}
	if _, err := stdin.Write(script); err != nil {
		session.Close()
		return &taskbencherrors.TransportError{Mode: "vm", TaskID: vh.taskID, Stage: "start", Cause: err}
	}
	stdin.Close()
	if err := session.Wait(); err != nil {
		session.Close()
		return &taskbencherrors.TransportError{Mode: "vm", TaskID: vh.taskID, Stage: "start", Cause: err}
	}
	session.Close()

	cmd := fmt.Sprintf("python3 %s", scriptName)
	if err := runRemoteDetached(vh.sshClient, vh.remoteAgentDir, cmd, TracePath); err != nil {
		return &taskbencherrors.TransportError{Mode: "vm", TaskID: vh.taskID, Stage: "start", Cause: err}
	}
	return nil
}

// Poll opens output.json over SSH, fail-silent if absent.
func (t *Transport) Poll(ctx context.Context, h transport.Handle) (*dataset.TaskResult, error) {
	vh := h.(*handle)

	outputPath := vh.remoteAgentDir + "/output.json"
	if exists, err := pathExists(vh.sshClient, outputPath); err == nil && exists {
		data, err := readRemoteFile(vh.sshClient, outputPath)
		if err != nil {
			return nil, fmt.Errorf("reading output.json for task %s: %w", vh.taskID, err)
		}
		var value any
		if err := json.Unmarshal(data, &value); err != nil {
			return nil, fmt.Errorf("parsing output.json for task %s: %w", vh.taskID, err)
		}
		result := dataset.Success(vh.taskID, value)
		return &result, nil
	}

	errorPath := vh.remoteAgentDir + "/error.log"
	if exists, err := pathExists(vh.sshClient, errorPath); err == nil && exists {
		data, err := readRemoteFile(vh.sshClient, errorPath)
		if err != nil {
			return nil, fmt.Errorf("reading error.log for task %s: %w", vh.taskID, err)
		}
		result := dataset.Error(vh.taskID, fmt.Errorf("%s", strings.TrimSpace(string(data))))
		return &result, nil
	}

	return nil, nil
}

// FetchTrace pulls the current trace log from the VM, called every poll
// cycle so the host sees streaming progress.
func (t *Transport) FetchTrace(ctx context.Context, h transport.Handle) ([]byte, error) {
	vh := h.(*handle)
	tracePath := vh.remoteAgentDir + "/" + TracePath
	if exists, err := pathExists(vh.sshClient, tracePath); err != nil || !exists {
		return nil, err
	}
	return readRemoteFile(vh.sshClient, tracePath)
}

// Teardown fetches the VM's home directory back to the host, then deletes
// the VM, NIC, and public address, each guarded independently so one
// failure does not prevent the others.
func (t *Transport) Teardown(ctx context.Context, h transport.Handle) error {
	vh := h.(*handle)

	if vh.sshClient != nil && t.runDirFor != nil {
		if dest, err := t.runDirFor(vh.taskID); err == nil {
			if err := fetchTree(vh.sshClient, t.cfg.homeDir(), dest); err != nil {
				t.logger.Warn("fetching VM home directory failed", "task_id", vh.taskID, "error", err)
			}
		}
		vh.sshClient.Close()
	}

	t.teardownNetwork(ctx, vh)
	return nil
}

// teardownNetwork deletes every per-task network resource best-effort.
func (t *Transport) teardownNetwork(ctx context.Context, h *handle) {
	if h.instanceID != "" {
		if _, err := t.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
			InstanceIds: []string{h.instanceID},
		}); err != nil {
			t.logger.Warn("terminating instance failed", "task_id", h.taskID, "instance_id", h.instanceID, "error", err)
		}
	}

	if h.associationID != "" {
		if _, err := t.client.DisassociateAddress(ctx, &ec2.DisassociateAddressInput{
			AssociationId: aws.String(h.associationID),
		}); err != nil {
			t.logger.Warn("disassociating address failed", "task_id", h.taskID, "error", err)
		}
	}
	if h.allocationID != "" {
		if _, err := t.client.ReleaseAddress(ctx, &ec2.ReleaseAddressInput{
			AllocationId: aws.String(h.allocationID),
		}); err != nil {
			t.logger.Warn("releasing address failed", "task_id", h.taskID, "error", err)
		}
	}

	if h.networkInterfaceID != "" {
		// The instance may still be detaching its ENI; give it a moment
		// before attempting deletion.
		time.Sleep(3 * time.Second)
		if _, err := t.client.DeleteNetworkInterface(ctx, &ec2.DeleteNetworkInterfaceInput{
			NetworkInterfaceId: aws.String(h.networkInterfaceID),
		}); err != nil {
			t.logger.Warn("deleting network interface failed", "task_id", h.taskID, "eni_id", h.networkInterfaceID, "error", err)
		}
	}
}

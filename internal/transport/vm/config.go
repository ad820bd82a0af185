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

package vm

import "time"

// Config holds the execution-mode-specific settings spec §5 says are
// consumed at transport initialization and never re-read: image/instance
// shape, pre-created network plumbing, and the SSH identity used to reach
// every worker VM.
type Config struct {
	// Region is the AWS region VMs are launched in.
	Region string

	// ImageID is the AMI used for every worker VM. Its first-boot
	// configuration is expected to write BootSentinelPath once ready.
	ImageID string

	// InstanceType is the EC2 instance type (e.g. "t3.medium").
	InstanceType string

	// SubnetID and SecurityGroupID are pre-created shared network
	// resources; the transport attaches to them, it never creates or
	// deletes them.
	SubnetID        string
	SecurityGroupID string

	// KeyName is the EC2 key pair name associated with new instances.
	KeyName string

	// SSHUser is the remote login user baked into ImageID.
	SSHUser string

	// SSHPrivateKeyPath is the host path to the private key matching KeyName.
	SSHPrivateKeyPath string

	// BootTimeout bounds how long Prepare waits for BootSentinelPath to
	// appear on the VM. Defaults to 10 minutes.
	BootTimeout time.Duration

	// HomeDir is the remote user's home directory, where the agent
	// directory and staging files are transferred. Defaults to
	// "/home/<SSHUser>".
	HomeDir string
}

// BootSentinelPath is the file the VM's first-boot configuration must
// create once initialization is complete.
const BootSentinelPath = "/tmp/taskbench-ready"

// TracePath is the remote file the runner's stdout/stderr redirect to, and
// that FetchTrace pulls back every poll cycle.
const TracePath = "trace.log"

func (c Config) bootTimeout() time.Duration {
	if c.BootTimeout > 0 {
		return c.BootTimeout
	}
	return 10 * time.Minute
}

func (c Config) homeDir() string {
	if c.HomeDir != "" {
		return c.HomeDir
	}
	return "/home/" + c.SSHUser
}

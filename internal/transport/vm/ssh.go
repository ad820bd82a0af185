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

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/ssh"
)

// dialSSH opens a client connection to addr using the configured private
// key, with InsecureIgnoreHostKey: worker VMs are ephemeral and have no
// prior known-hosts entry. passphrase decrypts keyPath when non-empty.
func dialSSH(addr, user, keyPath, passphrase string, timeout time.Duration) (*ssh.Client, error) {
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading ssh private key: %w", err)
	}

	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(keyData)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing ssh private key: %w", err)
	}

	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	return ssh.Dial("tcp", addr, cfg)
}

// runRemote executes cmd on client and returns combined stdout.
func runRemote(client *ssh.Client, cmd string) (string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("opening ssh session: %w", err)
	}
	defer session.Close()

	out, err := session.CombinedOutput(cmd)
	return string(out), err
}

// runRemoteDetached launches cmd on the VM decoupled from the SSH session so
// it survives the control channel closing, redirecting its stdout/stderr to
// tracePath.
func runRemoteDetached(client *ssh.Client, dir, cmd, tracePath string) error {
	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("opening ssh session: %w", err)
	}
	defer session.Close()

	detached := fmt.Sprintf("cd %s && setsid sh -c '%s' > %s 2>&1 < /dev/null &", dir, cmd, tracePath)
	return session.Run(detached)
}

// pathExists reports whether path exists on the remote host.
func pathExists(client *ssh.Client, path string) (bool, error) {
	_, err := runRemote(client, fmt.Sprintf("test -f %s", path))
	if err == nil {
		return true, nil
	}
	if exitErr, ok := err.(*ssh.ExitError); ok && exitErr.ExitStatus() == 1 {
		return false, nil
	}
	return false, err
}

// readRemoteFile reads path's contents from the remote host via `cat`.
func readRemoteFile(client *ssh.Client, path string) ([]byte, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("opening ssh session: %w", err)
	}
	defer session.Close()

	var stdout bytes.Buffer
	session.Stdout = &stdout
	if err := session.Run(fmt.Sprintf("cat %s", path)); err != nil {
		return nil, err
	}
	return stdout.Bytes(), nil
}

// sendTree compresses localDir into a tar.gz stream and extracts it into
// remoteDir over a single SSH session, matching spec's "compress, transfer,
// extract" file-archive transfer.
func sendTree(client *ssh.Client, localDir, remoteDir string) error {
	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("opening ssh session: %w", err)
	}
	defer session.Close()

	if _, err := runRemote(client, fmt.Sprintf("mkdir -p %s", remoteDir)); err != nil {
		return fmt.Errorf("creating remote directory: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		return fmt.Errorf("opening stdin pipe: %w", err)
	}

	if err := session.Start(fmt.Sprintf("tar xzf - -C %s", remoteDir)); err != nil {
		return fmt.Errorf("starting remote extraction: %w", err)
	}

	if err := writeTarGz(localDir, stdin); err != nil {
		stdin.Close()
		return fmt.Errorf("streaming archive: %w", err)
	}
	stdin.Close()

	return session.Wait()
}

// writeTarGz walks dir and writes a gzip-compressed tar archive to w.
func writeTarGz(dir string, w io.Writer) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = rel
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

// fetchTree extracts a remote directory's contents back to localDir via a
// matching tar.gz pipe in the opposite direction.
func fetchTree(client *ssh.Client, remoteDir, localDir string) error {
	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("opening ssh session: %w", err)
	}
	defer session.Close()

	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return err
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		return fmt.Errorf("opening stdout pipe: %w", err)
	}

	if err := session.Start(fmt.Sprintf("tar czf - -C %s .", remoteDir)); err != nil {
		return fmt.Errorf("starting remote archive: %w", err)
	}

	if err := extractTarGz(stdout, localDir); err != nil {
		return fmt.Errorf("extracting archive: %w", err)
	}

	return session.Wait()
}

func extractTarGz(r io.Reader, dest string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(dest, header.Name)
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.Create(target)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			f.Close()
		}
	}
}

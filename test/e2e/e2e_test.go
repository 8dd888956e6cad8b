//go:build e2e
// +build e2e

/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const authEntry = `package main

var Scope = "authApp"

func Init(shared map[string]string) error { return nil }

func Expose(module string) bool { return module == "./Login" }

func Load(module string) (any, error) { return "login-%s", nil }
`

func manifest(remoteURL string) string {
	return fmt.Sprintf(`{
  "microFrontends": [
    {"name": "auth", "scope": "authApp", "url": %q, "module": "./Login"}
  ]
}`, remoteURL)
}

func freeAddress() string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())
	defer func() { _ = l.Close() }()
	return l.Addr().String()
}

var _ = Describe("mfhost", Ordered, func() {
	var (
		dir          string
		manifestPath string
		remote       *httptest.Server
		version      string
		serve        *exec.Cmd
		serveOutput  *bytes.Buffer
		baseURL      string
	)

	BeforeAll(func() {
		SetDefaultEventuallyTimeout(30 * time.Second)
		SetDefaultEventuallyPollingInterval(250 * time.Millisecond)

		dir = GinkgoT().TempDir()
		version = "v1"
		remote = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = fmt.Fprintf(w, authEntry, version)
		}))
		DeferCleanup(remote.Close)

		manifestPath = filepath.Join(dir, "config.json")
		Expect(os.WriteFile(manifestPath, []byte(manifest(remote.URL+"/remoteEntry.go")), 0o644)).To(Succeed())

		By("starting mfhost serve")
		addr := freeAddress()
		baseURL = "http://" + addr
		serveOutput = &bytes.Buffer{}
		serve = exec.Command(binary, "serve",
			"--env", "production",
			"--static-manifest", manifestPath,
			"--addr", addr,
			"--watch",
		)
		serve.Stdout = serveOutput
		serve.Stderr = serveOutput
		Expect(serve.Start()).To(Succeed())
		DeferCleanup(func() {
			_ = serve.Process.Signal(os.Interrupt)
			_ = serve.Wait()
		})
	})

	AfterEach(func() {
		if CurrentSpecReport().Failed() {
			_, _ = fmt.Fprintf(GinkgoWriter, "mfhost output:\n%s", serveOutput.String())
		}
	})

	get := func(path string) (int, []byte, error) {
		resp, err := http.Get(baseURL + path)
		if err != nil {
			return 0, nil, err
		}
		defer func() { _ = resp.Body.Close() }()
		body, err := io.ReadAll(resp.Body)
		return resp.StatusCode, body, err
	}

	do := func(method, path string) (int, []byte) {
		req, err := http.NewRequest(method, baseURL+path, nil)
		Expect(err).NotTo(HaveOccurred())
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = resp.Body.Close() }()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return resp.StatusCode, body
	}

	It("should become ready", func() {
		Eventually(func(g Gomega) {
			status, _, err := get("/readyz")
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(status).To(Equal(http.StatusOK))
		}).Should(Succeed())
	})

	It("should serve the static configuration", func() {
		status, body, err := get("/api/config")
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(http.StatusOK))
		Expect(string(body)).To(ContainSubstring(`"authApp"`))
	})

	It("should load an exposed module", func() {
		status, body := do(http.MethodPost, "/api/modules/authApp/load?module=./Login")
		Expect(status).To(Equal(http.StatusOK), string(body))

		var export map[string]any
		Expect(json.Unmarshal(body, &export)).To(Succeed())
		Expect(export).To(HaveKeyWithValue("key", "authApp/./Login"))
	})

	It("should reject a module the remote does not expose", func() {
		status, _ := do(http.MethodPost, "/api/modules/authApp/load?module=./Missing")
		Expect(status).To(Equal(http.StatusNotFound))
	})

	It("should report the remote as healthy", func() {
		status, body, err := get("/api/health")
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(http.StatusOK))
		Expect(string(body)).To(ContainSubstring(`"healthy":["auth"]`))
	})

	It("should invalidate a scope", func() {
		version = "v2"
		status, body := do(http.MethodDelete, "/api/modules/authApp")
		Expect(status).To(Equal(http.StatusOK), string(body))

		status, body = do(http.MethodPost, "/api/modules/authApp/load?module=./Login")
		Expect(status).To(Equal(http.StatusOK), string(body))
	})

	It("should reload when the static manifest changes", func() {
		updated := `{"microFrontends": [
  {"name": "auth", "scope": "authApp", "url": "` + remote.URL + `/remoteEntry.go", "module": "./Login"},
  {"name": "booking", "scope": "bookingApp", "url": "` + remote.URL + `/booking.go", "module": "./BookingList"}
]}`
		Expect(os.WriteFile(manifestPath, []byte(updated), 0o644)).To(Succeed())

		Eventually(func(g Gomega) {
			_, body, err := get("/api/config")
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(string(body)).To(ContainSubstring(`"bookingApp"`))
		}).Should(Succeed())
	})

	It("should expose loader metrics", func() {
		status, body, err := get("/metrics")
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(http.StatusOK))
		Expect(string(body)).To(ContainSubstring("mfhost_loader_"))
	})

	It("should validate manifests from the command line", func() {
		_, err := run(exec.Command(binary, "validate", manifestPath))
		Expect(err).NotTo(HaveOccurred())

		bad := filepath.Join(dir, "bad.json")
		Expect(os.WriteFile(bad, []byte(`{"microFrontends": [{"scope": "bad scope"}]}`), 0o644)).To(Succeed())
		_, err = run(exec.Command(binary, "validate", bad))
		Expect(err).To(HaveOccurred())
	})
})

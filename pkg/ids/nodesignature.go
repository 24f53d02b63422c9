package ids

import (
	"context"
	"net"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// nodeSignatureOnce memoizes the derived node signature for the lifetime
// of the process.
var (
	nodeSignatureOnce sync.Once
	nodeSignatureVal  string
)

// NodeSignature returns a unique, persistent, opaque identifier for the
// execution host. It is stable across reboots and OS upgrades, globally
// unique across a fleet, and exposes no raw system detail: only a hash of
// the first non-empty signal in a fixed priority order is returned.
//
// Signal priority (first non-empty source wins): local cloud-init instance
// ID, OS machine ID (/etc/machine-id on Linux), cloud metadata-service
// instance ID (AWS/GCP/Azure), SMBIOS hardware UUID, the first
// globally-administered MAC address, then a persisted random UUID as a
// last resort. The cloud-init check runs ahead of the OS machine ID
// deliberately, to resolve identity correctly for cloned VMs whose
// /etc/machine-id may be stale; this ordering is preserved unchanged.
func NodeSignature() string {
	nodeSignatureOnce.Do(func() {
		nodeSignatureVal = computeNodeSignature()
	})
	return nodeSignatureVal
}

func computeNodeSignature() string {
	suppliers := []func() string{
		localCloudID,
		osMachineID,
		cloudInstanceID,
		func() string { return readFirst(SMBIOSUUIDPath) },
		stableMAC,
		persistentRandomID,
	}

	chosen := ""
	for _, supplier := range suppliers {
		if candidate := nonTrivialID(supplier()); candidate != "" {
			chosen = candidate
			break
		}
	}

	if chosen == "" {
		return "signatureless_node_signatureless"
	}

	payload := []string{NodeSignatureVersion, chosen}
	sig, err := HashSignature(payload)
	if err != nil {
		return "signatureless_node_signatureless"
	}
	return sig
}

func readFirst(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	buf := make([]byte, MetadataReadLimit)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return ""
	}
	return strings.TrimSpace(string(buf[:n]))
}

func localCloudID() string {
	return readFirst("/var/lib/cloud/data/instance-id")
}

func osMachineID() string {
	if id := readFirst("/etc/machine-id"); id != "" {
		return id
	}
	return readFirst("/var/lib/dbus/machine-id")
}

var cloudMetadataSources = []struct {
	url     string
	headers map[string]string
}{
	{"http://169.254.169.254/latest/meta-data/instance-id", nil},
	{"http://metadata.google.internal/computeMetadata/v1/instance/id", map[string]string{"Metadata-Flavor": "Google"}},
	{"http://169.254.169.254/metadata/instance/compute/vmId?api-version=2021-02-01", map[string]string{"Metadata": "true"}},
}

func cloudInstanceID() string {
	if id := nonTrivialID(readFirst("/sys/hypervisor/uuid")); id != "" {
		return id
	}
	for _, src := range cloudMetadataSources {
		if candidate := nonTrivialID(httpGetMetadata(src.url, src.headers)); candidate != "" {
			return candidate
		}
	}
	return ""
}

func httpGetMetadata(url string, headers map[string]string) string {
	ctx, cancel := context.WithTimeout(context.Background(), MetadataTimeoutSeconds*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ""
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: MetadataTimeoutSeconds * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	buf := make([]byte, MetadataReadLimit)
	n, _ := resp.Body.Read(buf)
	if n == 0 {
		return ""
	}
	return strings.TrimSpace(string(buf[:n]))
}

var nonHexAlnum = regexp.MustCompile(`[^0-9a-zA-Z]`)

func nonTrivialID(value string) string {
	stripped := strings.TrimSpace(value)
	if stripped == "" {
		return ""
	}
	clean := strings.ToLower(nonHexAlnum.ReplaceAllString(stripped, ""))
	if clean == "" {
		return ""
	}
	allZero, allF := true, true
	for _, c := range clean {
		if c != '0' {
			allZero = false
		}
		if c != 'f' {
			allF = false
		}
	}
	if allZero || allF {
		return ""
	}
	return stripped
}

// stableMAC returns the first globally-administered (not locally
// administered, not multicast) hardware MAC address on the host, or "" if
// none is found.
func stableMAC() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		mac := iface.HardwareAddr
		if len(mac) < 6 {
			continue
		}
		firstOctet := mac[0]
		if firstOctet&0x02 != 0 { // locally administered bit set
			continue
		}
		if firstOctet&0x01 != 0 { // multicast bit set
			continue
		}
		hexMAC := strings.ReplaceAll(mac.String(), ":", "")
		if candidate := nonTrivialID(hexMAC); candidate != "" {
			return candidate
		}
	}
	return ""
}

func systemNodeIDPath() string {
	return "/var/lib/" + AppName + "/node-id"
}

func fallbackUserPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return home + "/." + AppName + "/node-id"
}

// persistentRandomID retrieves or atomically creates a persistent random
// node ID, preferring a system-wide location and falling back to a
// user-local one when the system path is not writable.
func persistentRandomID() string {
	for _, candidate := range []string{systemNodeIDPath(), fallbackUserPath()} {
		if id := readOrCreateNodeID(candidate); id != "" {
			return id
		}
	}
	return ""
}

func readOrCreateNodeID(path string) string {
	dir := path[:strings.LastIndex(path, "/")]
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ""
	}

	if content := readFirst(path); content != "" {
		return content
	}

	rid := strings.ReplaceAll(uuid.New().String(), "-", "")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		// Another process may have won the create race; read what's there.
		if content := readFirst(path); content != "" {
			return content
		}
		return ""
	}
	defer f.Close()
	if _, err := f.WriteString(rid); err != nil {
		return ""
	}
	return rid
}

// resetNodeSignatureForTest clears the memoized signature so tests can
// exercise different environments. Unexported: test-only.
func resetNodeSignatureForTest() {
	nodeSignatureOnce = sync.Once{}
	nodeSignatureVal = ""
}

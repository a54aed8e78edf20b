package guestfs

import (
	"strings"
	"testing"

	"github.com/jimv/vmagent/pkg/types"
)

func TestScriptLinux(t *testing.T) {
	operates := []types.OSTemplateInitializeOperate{
		{Kind: types.OperateCommand, Command: "systemctl enable sshd"},
		{Kind: types.OperateWriteFile, Path: "/etc/hostname", Content: "guest-1\n"},
		{Kind: types.OperateAppendFile, Path: "/etc/hosts", Content: "10.0.0.2 db\n"},
	}

	script, err := Script(operates, "centos7")
	if err != nil {
		t.Fatalf("Script() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(script), "\n")
	want := []string{
		`sh "systemctl enable sshd"`,
		`write "/etc/hostname" "guest-1\n"`,
		`write-append "/etc/hosts" "10.0.0.2 db\n"`,
		"quit",
	}
	if len(lines) != len(want) {
		t.Fatalf("script = %q", script)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestScriptWindowsSkipsCommandsAndUsesCRLF(t *testing.T) {
	operates := []types.OSTemplateInitializeOperate{
		{Kind: types.OperateCommand, Command: "echo nope"},
		{Kind: types.OperateWriteFile, Path: "/setup.txt", Content: "a\nb"},
	}

	script, err := Script(operates, "Windows Server 2016")
	if err != nil {
		t.Fatalf("Script() error = %v", err)
	}

	if strings.Contains(script, "sh ") {
		t.Error("command operate should be skipped on windows")
	}
	if !strings.Contains(script, `"a\r\nb"`) {
		t.Errorf("content should be CRLF-normalized, script = %q", script)
	}
}

func TestScriptUnknownKind(t *testing.T) {
	if _, err := Script([]types.OSTemplateInitializeOperate{{Kind: "truncate"}}, "centos7"); err == nil {
		t.Error("Script() should reject unknown operate kinds")
	}
}

func TestNormalizeContent(t *testing.T) {
	tests := []struct {
		in      string
		windows bool
		want    string
	}{
		{"a\nb", false, "a\nb"},
		{"a\nb", true, "a\r\nb"},
		// Already-CRLF input does not double its \r.
		{"a\r\nb", true, "a\r\nb"},
		{"", true, ""},
	}
	for _, tt := range tests {
		if got := NormalizeContent(tt.in, tt.windows); got != tt.want {
			t.Errorf("NormalizeContent(%q, %v) = %q, want %q", tt.in, tt.windows, got, tt.want)
		}
	}
}

func TestIsWindows(t *testing.T) {
	if !IsWindows("Windows Server 2019") {
		t.Error("should detect windows")
	}
	if IsWindows("centos7") {
		t.Error("should not detect windows")
	}
}

func TestDriveURI(t *testing.T) {
	local := Drive{Path: "/opt/Images/a.qcow2", Format: "qcow2"}
	if got := driveURI(local); got != "/opt/Images/a.qcow2" {
		t.Errorf("driveURI(local) = %q", got)
	}

	net := Drive{Path: "gv0/images/a.qcow2", Format: "qcow2", Protocol: "gluster", Servers: []string{"127.0.0.1"}}
	if got := driveURI(net); got != "gluster://127.0.0.1/gv0/images/a.qcow2" {
		t.Errorf("driveURI(net) = %q", got)
	}
}

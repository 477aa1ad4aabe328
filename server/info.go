package server

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/raniellyferreira/stormdb/protocol"
)

var infoSections = []string{"server", "clients", "persistence", "replication", "stats", "keyspace"}

// cmdInfo renders INFO [section ...]. "all" and "everything" select every
// section.
func cmdInfo(s *Server, _ *Client, args [][]byte) protocol.Value {
	selected := make(map[string]bool)
	for _, arg := range args[1:] {
		name := string(bytes.ToLower(arg))
		if name == "all" || name == "everything" || name == "default" {
			selected = nil
			break
		}
		selected[name] = true
	}
	if len(args) == 1 {
		selected = nil
	}
	return protocol.BulkString(s.Info(selected))
}

// Info renders the INFO text for the selected sections, or all of them
// when selected is nil.
func (s *Server) Info(selected map[string]bool) string {
	var b strings.Builder
	for _, section := range infoSections {
		if selected != nil && !selected[section] {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\r\n")
		}
		b.WriteString("# " + strings.ToUpper(section[:1]) + section[1:] + "\r\n")
		for _, line := range s.infoSection(section) {
			b.WriteString(line)
			b.WriteString("\r\n")
		}
	}
	return b.String()
}

func field(name string, value interface{}) string {
	return fmt.Sprintf("%s:%v", name, value)
}

func (s *Server) infoSection(section string) []string {
	switch section {
	case "server":
		port := 0
		if tcp, ok := s.listenerAddr().(*net.TCPAddr); ok {
			port = tcp.Port
		}
		uptime := time.Since(s.started)
		return []string{
			field("stormdb_version", s.version),
			field("process_id", os.Getpid()),
			field("tcp_port", port),
			field("uptime_in_seconds", int64(uptime.Seconds())),
			field("uptime_in_days", int64(uptime.Hours()/24)),
		}

	case "clients":
		return []string{
			field("connected_clients", s.numConns.Load()),
			field("maxclients", s.maxClients),
		}

	case "persistence":
		if s.log == nil {
			return []string{field("aof_enabled", 0)}
		}
		lines := statLines(s.log.Stats())
		rewriting := 0
		if s.rewriting.Load() {
			rewriting = 1
		}
		return append(lines, field("aof_rewrite_in_progress", rewriting))

	case "replication":
		return s.replicationInfo()

	case "stats":
		lines := statLines(s.Stats())
		storeInfo := s.store.Info()
		lines = append(lines, field("expired_keys", storeInfo["expired_keys"]))
		for k, v := range s.broker.Stats() {
			lines = append(lines, field(k, v))
		}
		sort.Strings(lines)
		return lines

	case "keyspace":
		storeInfo := s.store.Info()
		if keys, _ := storeInfo["keys"].(int64); keys == 0 {
			return nil
		}
		return []string{fmt.Sprintf("db0:keys=%v,expires=%v,avg_ttl=0", storeInfo["keys"], storeInfo["expires"])}
	}
	return nil
}

func (s *Server) replicationInfo() []string {
	if stats, ok := s.ReplicationStats(); ok {
		host, port, _ := net.SplitHostPort(stats.MasterAddr)
		link, syncing := "down", 1
		if stats.Connected && stats.InitialSyncCompleted {
			link = "up"
		}
		if stats.InitialSyncCompleted {
			syncing = 0
		}
		lastIO := int64(-1)
		if !stats.LastIOTime.IsZero() {
			lastIO = int64(time.Since(stats.LastIOTime).Seconds())
		}
		return []string{
			field("role", "slave"),
			field("master_host", host),
			field("master_port", port),
			field("master_link_status", link),
			field("master_last_io_seconds_ago", lastIO),
			field("master_sync_in_progress", syncing),
			field("slave_repl_offset", stats.ReplicationOffset),
			field("master_replid", stats.MasterReplID),
			field("slave_read_only", 1),
			field("connected_slaves", len(s.master.Replicas())),
		}
	}

	replicas := s.master.Replicas()
	lines := []string{
		field("role", "master"),
		field("connected_slaves", len(replicas)),
	}
	for i, r := range replicas {
		host, _, _ := net.SplitHostPort(r.Addr)
		lines = append(lines, fmt.Sprintf("slave%d:ip=%s,port=%d,state=online,lag=%d", i, host, r.ListeningPort, r.Lag))
	}
	return append(lines,
		field("master_replid", s.master.ReplID()),
		field("master_repl_offset", s.master.Offset()),
	)
}

func statLines(stats map[string]interface{}) []string {
	lines := make([]string, 0, len(stats))
	for k, v := range stats {
		if b, ok := v.(bool); ok {
			v = 0
			if b {
				v = 1
			}
		}
		lines = append(lines, field(k, v))
	}
	sort.Strings(lines)
	return lines
}

// cmdRole mirrors ROLE: master with its replicas, or slave with its link.
func cmdRole(s *Server, _ *Client, _ [][]byte) protocol.Value {
	if stats, ok := s.ReplicationStats(); ok {
		host, port, _ := net.SplitHostPort(stats.MasterAddr)
		portNum, _ := strconv.Atoi(port)
		state := "connecting"
		switch {
		case stats.Connected && stats.InitialSyncCompleted:
			state = "connected"
		case stats.Connected:
			state = "sync"
		}
		return protocol.Array(
			protocol.BulkString("slave"),
			protocol.BulkString(host),
			protocol.Integer(int64(portNum)),
			protocol.BulkString(state),
			protocol.Integer(stats.ReplicationOffset),
		)
	}

	replicas := s.master.Replicas()
	items := make([]protocol.Value, len(replicas))
	offset := s.master.Offset()
	for i, r := range replicas {
		host, _, _ := net.SplitHostPort(r.Addr)
		items[i] = protocol.Array(
			protocol.BulkString(host),
			protocol.BulkString(strconv.Itoa(r.ListeningPort)),
			protocol.BulkString(strconv.FormatInt(offset, 10)),
		)
	}
	return protocol.Array(
		protocol.BulkString("master"),
		protocol.Integer(offset),
		protocol.Array(items...),
	)
}

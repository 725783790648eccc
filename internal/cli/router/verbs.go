package router

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"kizuna/internal/batch"
	"kizuna/internal/cli/output"
	"kizuna/internal/cli/parser"
	"kizuna/internal/cli/pipeline"
	"kizuna/internal/domain"
	"kizuna/internal/handlers"
	"kizuna/internal/platform/config"
	apperrors "kizuna/internal/platform/errors"
)

// defaultExecTimeout bounds remote execution when --timeout is absent.
const defaultExecTimeout = 30 * time.Second

func (r *Router) runDiscover(ctx context.Context, cmd parser.ParsedCommand) (string, error) {
	filters := handlers.DiscoverFilters{
		DeviceType: cmd.Option("--type"),
		Name:       cmd.Option("--name"),
	}
	if filters.Name == "" {
		filters.Name = cmd.Option("--filter")
	}
	if raw := cmd.Option("--timeout"); raw != "" {
		seconds, _ := strconv.Atoi(raw)
		filters.Timeout = time.Duration(seconds) * time.Second
	}

	result, err := r.deps.Discover.Discover(ctx, filters)
	if err != nil {
		return "", err
	}

	f := r.formatter(cmd)
	if f.Format() == domain.FormatJSON {
		return f.JSON(result.Peers)
	}
	table, err := f.Table(peersTable(result.Peers))
	if err != nil {
		return "", err
	}
	footer := fmt.Sprintf("Found %d peer(s) in %s", len(result.Peers), output.FormatDuration(result.DiscoveryTime))
	return table + "\n" + footer, nil
}

func (r *Router) runSend(ctx context.Context, cmd parser.ParsedCommand) (string, error) {
	if manifestPath := cmd.Option("--batch-file"); manifestPath != "" {
		return r.sendBatchFile(ctx, cmd, manifestPath)
	}

	files := cmd.Arguments
	peerRef := cmd.Option("--peer")
	if cmd.HasFlag("--pipeline") {
		items, err := r.piped()
		if err != nil {
			return "", err
		}
		if items.Batch != nil {
			return r.submitManifest(ctx, cmd, applyBatchOverrides(cmd, *items.Batch))
		}
		if len(files) == 0 {
			files = items.Files
		}
		if peerRef == "" && len(items.Peers) > 0 {
			if len(items.Peers) > 1 {
				// Several piped peers fan the same files out as a batch.
				refs := make([]string, 0, len(items.Peers))
				for _, id := range items.Peers {
					refs = append(refs, id.String())
				}
				return r.submitManifest(ctx, cmd, applyBatchOverrides(cmd, pipeline.Manifest{
					Files: files,
					Peers: refs,
				}))
			}
			peerRef = items.Peers[0].String()
		}
	}
	if len(files) == 0 {
		return "", apperrors.MissingArgument("file")
	}

	peer, err := r.resolvePeer(ctx, peerRef)
	if err != nil && !cmd.HasFlag("--queue") {
		return "", err
	}
	compression := !cmd.HasFlag("--no-compression") && r.deps.Config.TransferSettings.Compression
	encryption := !cmd.HasFlag("--no-encryption") && r.deps.Config.TransferSettings.Encryption

	if cmd.HasFlag("--queue") {
		if err != nil {
			return "", err
		}
		priority, _ := domain.ParsePriority(cmd.Option("--priority"))
		item, err := r.deps.Queue.Enqueue(ctx, peer, domain.TransferManifest{
			Files:       files,
			Compression: compression,
			Encryption:  encryption,
		}, priority)
		if err != nil {
			return "", err
		}
		f := r.formatter(cmd)
		if f.Format() == domain.FormatJSON {
			return f.JSON(item)
		}
		return fmt.Sprintf("Queued %d file(s) as %s (priority %s, state %s)",
			len(item.Manifest.Files), item.QueueID, item.Priority, item.State), nil
	}

	updates := r.deps.Transfer.Subscribe()
	op, err := r.deps.Transfer.Send(ctx, files, peer, compression, encryption)
	if err != nil {
		return "", err
	}
	final, err := waitForOperation(ctx, updates, r.deps.Transfer.GetOperation, op.OperationID)
	if err != nil {
		return "", err
	}
	if final.State == domain.StateFailed {
		return "", apperrors.Transfer(final.FailureReason)
	}

	f := r.formatter(cmd)
	if f.Format() == domain.FormatJSON {
		return f.JSON(final)
	}
	var sent uint64
	if final.Progress != nil {
		sent = final.Progress.Current
	}
	return fmt.Sprintf("Sent %d file(s) (%s) to %s", len(files), output.FormatBytes(sent), peer), nil
}

func (r *Router) sendBatchFile(ctx context.Context, cmd parser.ParsedCommand, path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", apperrors.IO(err)
	}
	manifest, err := pipeline.DecodeManifest(raw)
	if err != nil {
		return "", err
	}
	return r.submitManifest(ctx, cmd, applyBatchOverrides(cmd, manifest))
}

// applyBatchOverrides lets command-line flags win over manifest fields.
func applyBatchOverrides(cmd parser.ParsedCommand, manifest pipeline.Manifest) pipeline.Manifest {
	if raw := cmd.Option("--max-concurrent"); raw != "" {
		manifest.MaxConcurrent, _ = strconv.Atoi(raw)
	}
	if cmd.HasFlag("--parallel") {
		manifest.Mode = string(batch.Parallel)
	}
	return manifest
}

func (r *Router) submitManifest(ctx context.Context, cmd parser.ParsedCommand, manifest pipeline.Manifest) (string, error) {
	peers := make([]domain.PeerID, 0, len(manifest.Peers))
	for _, ref := range manifest.Peers {
		peer, err := r.resolvePeer(ctx, ref)
		if err != nil {
			return "", err
		}
		peers = append(peers, peer)
	}
	mode := batch.Mode(manifest.Mode)
	if manifest.Mode == "" {
		mode = batch.Sequential
	}

	status, err := r.deps.Batch.Submit(ctx, batch.Request{
		Files:       manifest.Files,
		Peers:       peers,
		Mode:        mode,
		Parallelism: manifest.MaxConcurrent,
	})
	if err != nil {
		return "", err
	}
	final, err := r.deps.Batch.Wait(ctx, status.BatchID)
	if err != nil {
		return "", err
	}
	progress, err := r.deps.Batch.Progress(status.BatchID)
	if err != nil {
		return "", err
	}

	f := r.formatter(cmd)
	if f.Format() == domain.FormatJSON {
		return f.JSON(final)
	}
	out := fmt.Sprintf("Batch %s: %d completed, %d failed, %d cancelled of %d operation(s)",
		status.BatchID, progress.Completed, progress.Failed, progress.Cancelled, progress.TotalOperations)
	if progress.Failed > 0 {
		for _, cell := range final.Operations {
			if cell.State == domain.StateFailed {
				out += fmt.Sprintf("\n  %s -> %s: %s", cell.File, cell.PeerID, cell.Error)
			}
		}
	}
	return out, nil
}

func (r *Router) runReceive(ctx context.Context, cmd parser.ParsedCommand) (string, error) {
	outputDir := cmd.Option("--output")
	if outputDir == "" {
		if outputDir = r.deps.Config.TransferSettings.DefaultDownloadPath; outputDir == "" {
			outputDir = "."
		}
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", apperrors.IO(err)
	}
	autoAccept := cmd.HasFlag("--auto-accept") || r.deps.Config.TransferSettings.AutoAcceptTrusted

	updates := r.deps.Transfer.Subscribe()
	op, err := r.deps.Transfer.Receive(ctx, outputDir, autoAccept)
	if err != nil {
		return "", err
	}
	final, err := waitForOperation(ctx, updates, r.deps.Transfer.GetOperation, op.OperationID)
	if err != nil {
		return "", err
	}
	if final.State == domain.StateFailed {
		return "", apperrors.Transfer(final.FailureReason)
	}

	f := r.formatter(cmd)
	if f.Format() == domain.FormatJSON {
		return f.JSON(final)
	}
	var received uint64
	if final.Progress != nil {
		received = final.Progress.Current
	}
	return fmt.Sprintf("Received %s into %s", output.FormatBytes(received), outputDir), nil
}

func (r *Router) runStream(ctx context.Context, cmd parser.ParsedCommand) (string, error) {
	quality := cmd.Option("--quality")
	if quality == "" {
		quality = r.deps.Config.StreamSettings.DefaultQuality
	}
	record := cmd.HasFlag("--record") || r.deps.Config.StreamSettings.AutoRecord
	savePath := cmd.Option("--output")
	if savePath == "" {
		savePath = r.deps.Config.StreamSettings.RecordingPath
	}

	op, url, err := r.deps.Streaming.Start(ctx, quality, record, savePath)
	if err != nil {
		return "", err
	}
	if ref := cmd.Option("--peer"); ref != "" {
		peer, err := r.resolvePeer(ctx, ref)
		if err != nil {
			return "", err
		}
		if err := r.deps.Streaming.AddViewer(ctx, op.OperationID, peer); err != nil {
			return "", err
		}
	}

	f := r.formatter(cmd)
	if f.Format() == domain.FormatJSON {
		return f.JSON(map[string]any{"operation": op, "url": url})
	}
	out := "Streaming camera at " + url + " (quality " + quality + ")"
	if record {
		out += "\nRecording enabled"
		if savePath != "" {
			out += ": " + savePath
		}
	}
	return out, nil
}

func (r *Router) runExec(ctx context.Context, cmd parser.ParsedCommand) (string, error) {
	peer, err := r.resolvePeer(ctx, cmd.Option("--peer"))
	if err != nil {
		return "", err
	}
	timeout := defaultExecTimeout
	if raw := cmd.Option("--timeout"); raw != "" {
		seconds, _ := strconv.Atoi(raw)
		timeout = time.Duration(seconds) * time.Second
	}
	command := strings.Join(cmd.Arguments, " ")

	result, err := r.deps.Exec.Execute(ctx, peer, command, timeout)
	if err != nil {
		return "", err
	}

	f := r.formatter(cmd)
	if f.Format() == domain.FormatJSON {
		return f.JSON(result)
	}
	out := strings.TrimRight(result.Stdout, "\n")
	if result.Stderr != "" {
		if out != "" {
			out += "\n"
		}
		out += result.Stderr
	}
	out += fmt.Sprintf("\nExit code %d in %s", result.ExitCode, output.FormatDuration(result.Duration))
	return out, nil
}

func (r *Router) runPeers(ctx context.Context, cmd parser.ParsedCommand) (string, error) {
	peers := r.deps.Discover.GetCachedPeers()
	if filter := strings.ToLower(cmd.Option("--filter")); filter != "" {
		kept := peers[:0]
		for _, p := range peers {
			if strings.Contains(strings.ToLower(p.Name), filter) ||
				strings.Contains(strings.ToLower(p.DeviceType), filter) {
				kept = append(kept, p)
			}
		}
		peers = kept
	}

	f := r.formatter(cmd)
	if f.Format() == domain.FormatJSON {
		return f.JSON(peers)
	}
	return f.Table(peersTable(peers))
}

func (r *Router) runStatus(ctx context.Context, cmd parser.ParsedCommand) (string, error) {
	snapshot := r.deps.Status.Snapshot()

	f := r.formatter(cmd)
	if f.Format() == domain.FormatJSON {
		return f.JSON(snapshot)
	}

	table, err := f.Table(operationsTable(snapshot.ActiveOperations))
	if err != nil {
		return "", err
	}
	session := "valid"
	if !snapshot.SessionValid {
		session = "expired"
	}
	summary := fmt.Sprintf(
		"Peers online: %d (trusted %d)  Session: %s\nQueue: %d pending, %d running  Bandwidth: %s\nToday: %d completed, %d failed",
		snapshot.PeersOnline, snapshot.PeersTrusted, session,
		snapshot.Queue.Pending, snapshot.Queue.Running, output.FormatRate(snapshot.BandwidthBps),
		snapshot.CompletedToday, snapshot.FailedToday)
	if len(snapshot.ActiveOperations) == 0 {
		return summary + "\nNo active operations", nil
	}
	return summary + "\n" + table, nil
}

func (r *Router) runClipboard(ctx context.Context, cmd parser.ParsedCommand) (string, error) {
	switch {
	case cmd.HasFlag("--disable"):
		stopped := r.deps.Clipboard.StopAll()
		return fmt.Sprintf("Stopped %d clipboard sync session(s)", stopped), nil
	case cmd.HasFlag("--enable"):
		peer, err := r.resolvePeer(ctx, cmd.Option("--peer"))
		if err != nil {
			return "", err
		}
		op, err := r.deps.Clipboard.Watch(ctx, peer)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Clipboard sync with %s started (operation %s)", peer, op.OperationID), nil
	}

	switch cmd.Subcommand {
	case "share":
		peer, err := r.resolvePeer(ctx, cmd.Option("--peer"))
		if err != nil {
			return "", err
		}
		if err := r.deps.Clipboard.Send(ctx, peer); err != nil {
			return "", err
		}
		return "Clipboard shared with " + peer.String(), nil
	case "status", "history":
		ops := r.deps.Clipboard.GetAllOperations()
		if cmd.Subcommand == "history" {
			if raw := cmd.Option("--limit"); raw != "" {
				if n, err := strconv.Atoi(raw); err == nil && n < len(ops) {
					ops = ops[len(ops)-n:]
				}
			}
		}
		f := r.formatter(cmd)
		if f.Format() == domain.FormatJSON {
			return f.JSON(ops)
		}
		if len(ops) == 0 {
			return "No clipboard sync sessions", nil
		}
		return f.Table(operationsTable(ops))
	}

	// Bare clipboard --peer fetches the remote clipboard.
	peer, err := r.resolvePeer(ctx, cmd.Option("--peer"))
	if err != nil {
		return "", err
	}
	content, err := r.deps.Clipboard.Get(ctx, peer)
	if err != nil {
		return "", err
	}
	return content, nil
}

func (r *Router) runConfig(ctx context.Context, cmd parser.ParsedCommand) (string, error) {
	cfg := *r.deps.Config
	if profile := cmd.Option("--profile"); profile != "" {
		applied, err := cfg.ApplyProfile(profile)
		if err != nil {
			return "", err
		}
		cfg = applied
	}

	switch cmd.Subcommand {
	case "get":
		value, err := cfg.Get(cmd.Arguments[0])
		if err != nil {
			return "", err
		}
		return value, nil
	case "set":
		key, value := cmd.Arguments[0], cmd.Arguments[1]
		if err := r.deps.Config.Set(key, value); err != nil {
			return "", err
		}
		if r.deps.ConfigPath != "" {
			if err := config.Save(r.deps.ConfigPath, *r.deps.Config); err != nil {
				return "", err
			}
		}
		return key + " = " + value, nil
	case "list", "":
		f := r.formatter(cmd)
		if f.Format() == domain.FormatJSON {
			return f.JSON(cfg)
		}
		data := domain.TableData{Headers: []string{"KEY", "VALUE"}}
		for _, key := range config.Keys() {
			value, err := cfg.Get(key)
			if err != nil {
				continue
			}
			data.Rows = append(data.Rows, []string{key, value})
		}
		return f.Table(data)
	}
	return "", apperrors.InvalidCommand("config " + cmd.Subcommand)
}

func (r *Router) runQueue(ctx context.Context, cmd parser.ParsedCommand) (string, error) {
	f := r.formatter(cmd)
	switch cmd.Subcommand {
	case "add":
		peer, err := r.resolvePeer(ctx, cmd.Option("--peer"))
		if err != nil {
			return "", err
		}
		priority, _ := domain.ParsePriority(cmd.Option("--priority"))
		item, err := r.deps.Queue.Enqueue(ctx, peer, domain.TransferManifest{
			Files:       cmd.Arguments,
			Compression: r.deps.Config.TransferSettings.Compression,
			Encryption:  r.deps.Config.TransferSettings.Encryption,
		}, priority)
		if err != nil {
			return "", err
		}
		if f.Format() == domain.FormatJSON {
			return f.JSON(item)
		}
		return fmt.Sprintf("Queued as %s (priority %s)", item.QueueID, item.Priority), nil
	case "cancel", "pause", "resume", "priority":
		queueID, err := parseQueueID(cmd.Arguments[0])
		if err != nil {
			return "", err
		}
		switch cmd.Subcommand {
		case "cancel":
			err = r.deps.Queue.Cancel(ctx, queueID)
		case "pause":
			err = r.deps.Queue.Pause(ctx, queueID)
		case "resume":
			err = r.deps.Queue.Resume(ctx, queueID)
		case "priority":
			priority, _ := domain.ParsePriority(cmd.Option("--priority"))
			err = r.deps.Queue.ChangePriority(ctx, queueID, priority)
		}
		if err != nil {
			return "", err
		}
		item, _ := r.deps.Queue.Get(queueID)
		if f.Format() == domain.FormatJSON {
			return f.JSON(item)
		}
		return fmt.Sprintf("Queue item %s is now %s (priority %s)", queueID, item.State, item.Priority), nil
	case "stats":
		stats := r.deps.Queue.Stats()
		if f.Format() == domain.FormatJSON {
			return f.JSON(stats)
		}
		return fmt.Sprintf("pending %d, paused %d, scheduled %d, running %d, completed %d, failed %d, cancelled %d",
			stats.Pending, stats.Paused, stats.Scheduled, stats.Running, stats.Completed, stats.Failed, stats.Cancelled), nil
	case "list", "":
		items := r.deps.Queue.List()
		if f.Format() == domain.FormatJSON {
			return f.JSON(items)
		}
		if len(items) == 0 {
			return "Queue is empty", nil
		}
		data := domain.TableData{Headers: []string{"ID", "PEER", "PRIORITY", "STATE", "FILES", "SIZE"}}
		for _, item := range items {
			data.Rows = append(data.Rows, []string{
				item.QueueID.String(),
				item.PeerID.String(),
				item.Priority.String(),
				string(item.State),
				strconv.Itoa(len(item.Manifest.Files)),
				output.FormatBytes(item.Manifest.TotalBytes),
			})
		}
		return f.Table(data)
	}
	return "", apperrors.InvalidCommand("queue " + cmd.Subcommand)
}

func (r *Router) runBatch(ctx context.Context, cmd parser.ParsedCommand) (string, error) {
	if manifestPath := cmd.Option("--file"); manifestPath != "" {
		return r.sendBatchFile(ctx, cmd, manifestPath)
	}
	items, err := r.piped()
	if err != nil {
		return "", err
	}
	if items.Batch != nil {
		return r.submitManifest(ctx, cmd, applyBatchOverrides(cmd, *items.Batch))
	}
	return "", apperrors.MissingArgument("--file")
}

func (r *Router) runHistory(ctx context.Context, cmd parser.ParsedCommand) (string, error) {
	if r.deps.History == nil {
		return "", apperrors.Other("history is unavailable")
	}
	f := r.formatter(cmd)
	limit := 20
	if raw := cmd.Option("--limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	switch cmd.Subcommand {
	case "clear":
		if err := r.deps.History.Clear(); err != nil {
			return "", err
		}
		return "History cleared", nil
	case "search":
		query := ""
		if len(cmd.Arguments) > 0 {
			query = strings.Join(cmd.Arguments, " ")
		}
		matches := r.deps.History.Search(query, limit)
		if f.Format() == domain.FormatJSON {
			return f.JSON(matches)
		}
		return strings.Join(matches, "\n"), nil
	case "show", "":
		entries := r.deps.History.Recent(limit)
		if f.Format() == domain.FormatJSON {
			return f.JSON(entries)
		}
		data := domain.TableData{Headers: []string{"WHEN", "COMMAND", "EXIT", "DURATION"}}
		for _, e := range entries {
			data.Rows = append(data.Rows, []string{
				e.Timestamp.Format("2006-01-02 15:04:05"),
				e.Command,
				strconv.Itoa(e.ExitCode),
				output.FormatDuration(time.Duration(e.DurationMS) * time.Millisecond),
			})
		}
		return f.Table(data)
	}
	return "", apperrors.InvalidCommand("history " + cmd.Subcommand)
}

func (r *Router) runTrust(ctx context.Context, cmd parser.ParsedCommand) (string, error) {
	gate := r.deps.Gate
	if cmd.HasFlag("--private-mode") {
		gate.SetPrivateMode(!gate.PrivateMode())
		if gate.PrivateMode() {
			return "Private mode enabled; share invite code " + gate.GenerateInviteCode(), nil
		}
		return "Private mode disabled", nil
	}

	switch cmd.Subcommand {
	case "add":
		peer, err := r.resolvePeer(ctx, cmd.Arguments[0])
		if err != nil {
			return "", err
		}
		if err := gate.AddTrustedPeer(ctx, peer, cmd.Option("--nickname")); err != nil {
			return "", err
		}
		return "Trusted " + peer.String(), nil
	case "remove":
		peer, err := r.resolvePeer(ctx, cmd.Arguments[0])
		if err != nil {
			return "", err
		}
		if err := gate.RemoveTrustedPeer(ctx, peer); err != nil {
			return "", err
		}
		return "Removed trust for " + peer.String(), nil
	case "pair":
		code, err := gate.GeneratePairingCode(ctx)
		if err != nil {
			return "", err
		}
		return "Pairing code: " + code, nil
	case "verify":
		peer, err := r.resolvePeer(ctx, cmd.Arguments[0])
		if err != nil {
			return "", err
		}
		ok, err := gate.VerifyAndTrustPeer(ctx, cmd.Option("--code"), peer, cmd.Option("--nickname"))
		if err != nil {
			return "", err
		}
		if !ok {
			return "", apperrors.Security("pairing code rejected")
		}
		return "Verified and trusted " + peer.String(), nil
	case "list", "":
		trusted, err := gate.TrustedPeers(ctx)
		if err != nil {
			return "", err
		}
		f := r.formatter(cmd)
		if f.Format() == domain.FormatJSON {
			return f.JSON(trusted)
		}
		if len(trusted) == 0 {
			return "No trusted peers", nil
		}
		data := domain.TableData{Headers: []string{"PEER", "NICKNAME"}}
		for id, nickname := range trusted {
			data.Rows = append(data.Rows, []string{id.String(), nickname})
		}
		return f.Table(data)
	}
	return "", apperrors.InvalidCommand("trust " + cmd.Subcommand)
}

func parseQueueID(raw string) (domain.QueueID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return domain.QueueID{}, apperrors.InvalidArgumentValue("queue id", raw+" is not a valid id")
	}
	return id, nil
}

func peersTable(peers []domain.PeerInfo) domain.TableData {
	data := domain.TableData{Headers: []string{"NAME", "TYPE", "STATUS", "TRUST", "CAPABILITIES"}}
	for _, p := range peers {
		data.Rows = append(data.Rows, []string{
			p.Name,
			p.DeviceType,
			string(p.ConnectionStatus),
			string(p.TrustStatus),
			strings.Join(p.Capabilities, ", "),
		})
	}
	return data
}

func operationsTable(ops []domain.OperationStatus) domain.TableData {
	data := domain.TableData{Headers: []string{"ID", "TYPE", "PEER", "STATE", "PROGRESS"}}
	for _, op := range ops {
		progress := "-"
		if op.Progress != nil {
			if pct := op.Progress.Percent(); pct >= 0 {
				progress = fmt.Sprintf("%.1f%%", pct)
			} else {
				progress = fmt.Sprintf("%d %s", op.Progress.Current, op.Progress.Message)
			}
		}
		data.Rows = append(data.Rows, []string{
			op.OperationID.String(),
			string(op.OperationType),
			op.PeerID.String(),
			string(op.State),
			progress,
		})
	}
	return data
}

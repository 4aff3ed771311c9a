// Package shell implements an interactive command interpreter driven by
// decoded keyboard events.
package shell

import (
	"io"
	"strings"

	"minos/kernel/cpu"
	"minos/kernel/driver/kbd"
	"minos/kernel/driver/pit"
	"minos/kernel/driver/rtc"
	"minos/kernel/kfmt"
	"minos/kernel/memfs"
	"minos/kernel/mm/kheap"
	"minos/kernel/mm/pmm"
)

const prompt = "$ "

// commandNames lists the commands offered for tab completion.
var commandNames = []string{
	"cat", "cd", "clear", "echo", "exit", "free", "help", "history",
	"ls", "mkdir", "pwd", "time", "touch", "uptime",
}

// fileCommands lists the commands whose argument completes against the
// working directory.
var fileCommands = []string{"cat", "cd", "ls", "mkdir", "touch"}

// cpuHaltFn is mocked by tests and is automatically inlined by the compiler.
var cpuHaltFn = cpu.Halt

// Terminal is the output device a shell writes to.
type Terminal interface {
	io.Writer

	// Clear erases the terminal contents.
	Clear()
}

// Shell reads key events, maintains an editable input line with history and
// tab completion, and executes the entered commands. The zero value is not
// usable before Init runs.
type Shell struct {
	term  Terminal
	fs    *memfs.FileSystem
	clock *rtc.Clock
	timer *pit.Timer

	frameAllocator *pmm.BitmapAllocator
	heap           *kheap.Allocator

	// input is the line under edit; cursor indexes the insertion point
	// within it.
	input  []byte
	cursor int

	// insertMode selects between inserting at and overwriting the
	// character under the cursor.
	insertMode bool

	history []string

	// historyIndex counts entries walked back from the end of history;
	// zero means the line under edit is not a recalled entry.
	historyIndex int
}

// Init wires the shell to its collaborators and prints the first prompt.
func (s *Shell) Init(term Terminal, fs *memfs.FileSystem, clock *rtc.Clock, timer *pit.Timer, frameAllocator *pmm.BitmapAllocator, heap *kheap.Allocator) {
	s.term = term
	s.fs = fs
	s.clock = clock
	s.timer = timer
	s.frameAllocator = frameAllocator
	s.heap = heap
	s.insertMode = true

	kfmt.Fprintf(s.term, "%s", prompt)
}

// HandleKey processes one decoded key event. It implements kbd.EventSink.
func (s *Shell) HandleKey(event kbd.Event) {
	switch event.Type {
	case kbd.KeyRune:
		s.insertRune(event.Rune)
	case kbd.KeyEnter:
		kfmt.Fprintf(s.term, "\n")
		s.executeLine()
	case kbd.KeyBackspace:
		s.handleBackspace()
	case kbd.KeyDelete:
		s.handleDelete()
	case kbd.KeyTab:
		s.handleTab()
	case kbd.KeyHome:
		s.cursor = 0
		s.redrawLine()
	case kbd.KeyEnd:
		s.cursor = len(s.input)
		s.redrawLine()
	case kbd.KeyInsert:
		s.insertMode = !s.insertMode
	case kbd.KeyArrowLeft:
		if s.cursor > 0 {
			s.cursor--
			s.redrawLine()
		}
	case kbd.KeyArrowRight:
		if s.cursor < len(s.input) {
			s.cursor++
			s.redrawLine()
		}
	case kbd.KeyArrowUp:
		s.historyUp()
	case kbd.KeyArrowDown:
		s.historyDown()
	}
}

func (s *Shell) insertRune(r byte) {
	if s.insertMode || s.cursor == len(s.input) {
		s.input = append(s.input, 0)
		copy(s.input[s.cursor+1:], s.input[s.cursor:])
		s.input[s.cursor] = r
	} else {
		s.input[s.cursor] = r
	}
	s.cursor++

	if s.cursor == len(s.input) {
		kfmt.Fprintf(s.term, "%c", r)
		return
	}
	s.redrawLine()
}

func (s *Shell) handleBackspace() {
	if s.cursor == 0 {
		return
	}
	s.cursor--
	s.input = append(s.input[:s.cursor], s.input[s.cursor+1:]...)
	s.redrawLine()
}

func (s *Shell) handleDelete() {
	if s.cursor >= len(s.input) {
		return
	}
	s.input = append(s.input[:s.cursor], s.input[s.cursor+1:]...)
	s.redrawLine()
}

// redrawLine repaints the prompt and input line and positions the cursor by
// backspacing from the end of the line.
func (s *Shell) redrawLine() {
	kfmt.Fprintf(s.term, "\r%s%s \b", prompt, string(s.input))
	for i := s.cursor; i < len(s.input); i++ {
		kfmt.Fprintf(s.term, "\b")
	}
}

func (s *Shell) historyUp() {
	if len(s.history) == 0 || s.historyIndex >= len(s.history) {
		return
	}
	s.historyIndex++
	s.recallHistory()
}

func (s *Shell) historyDown() {
	if s.historyIndex == 0 {
		return
	}
	s.historyIndex--
	if s.historyIndex == 0 {
		s.input = s.input[:0]
		s.cursor = 0
		s.redrawLine()
		return
	}
	s.recallHistory()
}

func (s *Shell) recallHistory() {
	entry := s.history[len(s.history)-s.historyIndex]
	s.input = append(s.input[:0], entry...)
	s.cursor = len(s.input)
	s.redrawLine()
}

// executeLine runs the current input line and resets the editor state.
func (s *Shell) executeLine() {
	line := strings.TrimSpace(string(s.input))
	if line != "" {
		s.runCommand(strings.Fields(line))
		s.history = append(s.history, line)
	}

	s.input = s.input[:0]
	s.cursor = 0
	s.historyIndex = 0
	kfmt.Fprintf(s.term, "%s", prompt)
}

func (s *Shell) runCommand(parts []string) {
	args, redirect := parseRedirect(parts[1:])

	var out strings.Builder

	switch parts[0] {
	case "help":
		s.cmdHelp(&out)
	case "clear":
		s.term.Clear()
	case "history":
		s.cmdHistory(&out)
	case "exit":
		s.cmdExit()
	case "ls":
		s.cmdLs(&out)
	case "echo":
		kfmt.Fprintf(&out, "%s\n", strings.Join(args, " "))
	case "cat":
		s.cmdCat(&out, args)
	case "pwd":
		kfmt.Fprintf(&out, "%s\n", s.fs.CurrentPath())
	case "mkdir":
		s.cmdMkdir(args)
	case "cd":
		s.cmdCd(args)
	case "touch":
		s.cmdTouch(args)
	case "time":
		s.cmdTime(&out)
	case "uptime":
		s.cmdUptime(&out)
	case "free":
		s.cmdFree(&out)
	default:
		kfmt.Fprintf(s.term, "Unknown command: '%s'\n", parts[0])
		return
	}

	if redirect != nil {
		if err := s.fs.WriteFile(redirect.target, []byte(out.String()), redirect.append); err != nil {
			kfmt.Fprintf(s.term, "%s: %s\n", parts[0], err.Message)
		}
		return
	}
	kfmt.Fprintf(s.term, "%s", out.String())
}

type redirect struct {
	target string
	append bool
}

// parseRedirect splits a ">" or ">>" operator and its target file off the
// argument list.
func parseRedirect(parts []string) ([]string, *redirect) {
	for i, part := range parts {
		if part == ">" || part == ">>" {
			if i+1 < len(parts) {
				return parts[:i], &redirect{target: parts[i+1], append: part == ">>"}
			}
			return parts[:i], nil
		}
	}
	return parts, nil
}

func (s *Shell) cmdHelp(out io.Writer) {
	kfmt.Fprintf(out, "Available commands:\n")
	kfmt.Fprintf(out, "  help     - Show this help\n")
	kfmt.Fprintf(out, "  clear    - Clear screen\n")
	kfmt.Fprintf(out, "  history  - Show command history\n")
	kfmt.Fprintf(out, "  exit     - Shutdown the system\n")
	kfmt.Fprintf(out, "  ls       - List directory contents\n")
	kfmt.Fprintf(out, "  cat      - Print file contents\n")
	kfmt.Fprintf(out, "  echo     - Display a line of text\n")
	kfmt.Fprintf(out, "  pwd      - Print working directory\n")
	kfmt.Fprintf(out, "  mkdir    - Create a directory\n")
	kfmt.Fprintf(out, "  cd       - Change directory\n")
	kfmt.Fprintf(out, "  touch    - Create an empty file\n")
	kfmt.Fprintf(out, "  time     - Show the current time\n")
	kfmt.Fprintf(out, "  uptime   - Show seconds since boot\n")
	kfmt.Fprintf(out, "  free     - Show memory usage\n")
}

func (s *Shell) cmdHistory(out io.Writer) {
	for i, entry := range s.history {
		kfmt.Fprintf(out, "%d: %s\n", i, entry)
	}
}

func (s *Shell) cmdExit() {
	kfmt.Fprintf(s.term, "Shutting down...\n")
	cpuHaltFn()
}

func (s *Shell) cmdLs(out io.Writer) {
	entries, err := s.fs.ListDir()
	if err != nil {
		kfmt.Fprintf(s.term, "ls: %s\n", err.Message)
		return
	}

	for _, entry := range entries {
		if entry.IsDir {
			kfmt.Fprintf(out, "%s/\n", entry.Name)
			continue
		}
		kfmt.Fprintf(out, "%s\n", entry.Name)
	}
}

func (s *Shell) cmdCat(out io.Writer, args []string) {
	if len(args) == 0 {
		kfmt.Fprintf(s.term, "Usage: cat <filename>\n")
		return
	}

	content, err := s.fs.ReadFile(args[0])
	if err != nil {
		kfmt.Fprintf(s.term, "cat: %s\n", err.Message)
		return
	}
	kfmt.Fprintf(out, "%s", string(content))
}

func (s *Shell) cmdMkdir(args []string) {
	if len(args) == 0 {
		kfmt.Fprintf(s.term, "Usage: mkdir <directory>\n")
		return
	}

	if err := s.fs.CreateDir(args[0]); err != nil {
		kfmt.Fprintf(s.term, "mkdir: %s\n", err.Message)
	}
}

func (s *Shell) cmdCd(args []string) {
	target := "/"
	if len(args) > 0 {
		target = args[0]
	}

	if err := s.fs.ChangeDir(target); err != nil {
		kfmt.Fprintf(s.term, "cd: %s\n", err.Message)
	}
}

func (s *Shell) cmdTouch(args []string) {
	if len(args) == 0 {
		kfmt.Fprintf(s.term, "Usage: touch <filename>\n")
		return
	}

	if err := s.fs.CreateFile(args[0]); err != nil {
		kfmt.Fprintf(s.term, "touch: %s\n", err.Message)
	}
}

func (s *Shell) cmdTime(out io.Writer) {
	now := s.clock.Now()

	sign := "+"
	offset := int(s.clock.TimezoneOffset)
	if offset < 0 {
		sign = "-"
		offset = -offset
	}

	kfmt.Fprintf(out, "Current time (UTC%s%d): ", sign, offset)
	kfmt.Fprintf(out, "%d%d:%d%d:%d%d\n",
		now.Hours/10, now.Hours%10,
		now.Minutes/10, now.Minutes%10,
		now.Seconds/10, now.Seconds%10,
	)
}

func (s *Shell) cmdUptime(out io.Writer) {
	kfmt.Fprintf(out, "up %d seconds (%d ticks)\n", s.timer.UptimeSeconds(), s.timer.Ticks())
}

func (s *Shell) cmdFree(out io.Writer) {
	kfmt.Fprintf(out, "heap:   %d bytes used, %d bytes free\n",
		uint64(s.heap.UsedSpace()), uint64(s.heap.FreeSpace()))
	kfmt.Fprintf(out, "frames: %d reserved, %d free, %d total\n",
		s.frameAllocator.ReservedFrames(),
		s.frameAllocator.FreeFrames(),
		s.frameAllocator.TotalFrames(),
	)
}

// handleTab completes the word under edit against the command table and,
// for file commands, the working directory.
func (s *Shell) handleTab() {
	input := strings.TrimLeft(string(s.input[:s.cursor]), " ")
	if input == "" {
		kfmt.Fprintf(s.term, "\n")
		s.cmdHelp(s.term)
		kfmt.Fprintf(s.term, "%s%s", prompt, string(s.input))
		return
	}

	candidates := s.completionCandidates(input)

	switch len(candidates) {
	case 0:
	case 1:
		s.input = append(s.input[:0], candidates[0]...)
		s.cursor = len(s.input)
		s.redrawLine()
	default:
		kfmt.Fprintf(s.term, "\nPossible completions:\n")
		for _, candidate := range candidates {
			kfmt.Fprintf(s.term, "%s\n", candidate)
		}
		kfmt.Fprintf(s.term, "%s%s", prompt, string(s.input))
	}
}

func (s *Shell) completionCandidates(input string) []string {
	var candidates []string

	for _, name := range commandNames {
		if strings.HasPrefix(name, input) {
			candidates = append(candidates, name)
		}
	}

	if !strings.Contains(input, " ") {
		return candidates
	}

	parts := strings.Fields(input)
	if len(parts) == 0 || !isFileCommand(parts[0]) {
		return candidates
	}

	prefix := ""
	if len(parts) > 1 {
		prefix = parts[1]
	}

	entries, err := s.fs.ListDir()
	if err != nil {
		return candidates
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name, prefix) {
			candidates = append(candidates, parts[0]+" "+entry.Name)
		}
	}
	return candidates
}

func isFileCommand(name string) bool {
	for _, cmd := range fileCommands {
		if cmd == name {
			return true
		}
	}
	return false
}

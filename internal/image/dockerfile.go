package image

import (
	"fmt"
	"strings"
)

// Kind enumerates the supported Dockerfile instructions.
type Kind int

const (
	KindFrom Kind = iota
	KindCopy
	KindVolume
	KindRun
	KindEnv
	KindWorkdir
	KindEntryPoint
	KindCmd
)

var kindKeywords = map[Kind]string{
	KindFrom:       "FROM",
	KindCopy:       "COPY",
	KindVolume:     "VOLUME",
	KindRun:        "RUN",
	KindEnv:        "ENV",
	KindWorkdir:    "WORKDIR",
	KindEntryPoint: "ENTRYPOINT",
	KindCmd:        "CMD",
}

func (k Kind) String() string {
	if s, ok := kindKeywords[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Instruction is one Dockerfile line.
type Instruction struct {
	Kind Kind
	Args []string
}

// From starts a Dockerfile from an image, with an optional tag.
func From(image string, tag ...string) Instruction {
	ref := image
	if len(tag) > 0 && tag[0] != "" {
		ref += ":" + tag[0]
	}
	return Instruction{Kind: KindFrom, Args: []string{ref}}
}

func Copy(from, to string) Instruction {
	return Instruction{Kind: KindCopy, Args: []string{from, to}}
}

func Volume(from, to string) Instruction {
	return Instruction{Kind: KindVolume, Args: []string{from, to}}
}

// Run executes a shell command at build time.
func Run(command string) Instruction {
	return Instruction{Kind: KindRun, Args: []string{command}}
}

func Env(key, value string) Instruction {
	return Instruction{Kind: KindEnv, Args: []string{key + "=" + value}}
}

func Workdir(dir string) Instruction {
	return Instruction{Kind: KindWorkdir, Args: []string{dir}}
}

// EntryPoint and Cmd render in exec form.
func EntryPoint(cmd ...string) Instruction {
	return Instruction{Kind: KindEntryPoint, Args: cmd}
}

func Cmd(cmd ...string) Instruction {
	return Instruction{Kind: KindCmd, Args: cmd}
}

// Render returns the instruction as Dockerfile text.
func (i Instruction) Render() string {
	switch i.Kind {
	case KindEntryPoint, KindCmd:
		quoted := make([]string, len(i.Args))
		for j, a := range i.Args {
			quoted[j] = fmt.Sprintf("%q", a)
		}
		return fmt.Sprintf("%s [%s]", i.Kind, strings.Join(quoted, ", "))
	default:
		return strings.TrimSpace(i.Kind.String() + " " + strings.Join(i.Args, " "))
	}
}

// Dockerfile accumulates instructions and renders deterministic text. It is
// a value: every method returns a modified copy.
type Dockerfile struct {
	from       Instruction
	instrs     []Instruction
	entryPoint *Instruction
}

// NewDockerfile starts a Dockerfile FROM the given image.
func NewDockerfile(from Instruction) Dockerfile {
	return Dockerfile{from: from}
}

// Then appends an instruction.
func (d Dockerfile) Then(instr Instruction) Dockerfile {
	d.instrs = append(d.instrs[:len(d.instrs):len(d.instrs)], instr)
	return d
}

// EntryPoint sets the ENTRYPOINT, always rendered last.
func (d Dockerfile) EntryPoint(cmd ...string) Dockerfile {
	ep := EntryPoint(cmd...)
	d.entryPoint = &ep
	return d
}

// Render returns the Dockerfile text.
func (d Dockerfile) Render() string {
	var sb strings.Builder
	sb.WriteString(d.from.Render())
	sb.WriteString("\n")
	for _, instr := range d.instrs {
		sb.WriteString(instr.Render())
		sb.WriteString("\n")
	}
	if d.entryPoint != nil {
		sb.WriteString(d.entryPoint.Render())
		sb.WriteString("\n")
	}
	return sb.String()
}

func (d Dockerfile) String() string {
	return d.Render()
}

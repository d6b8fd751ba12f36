package printer

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"taskportal/internal/service/dedup"
	"taskportal/internal/shard"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	bold   = color.New(color.Bold)
)

// Printer 终端输出，颜色遵循 NO_COLOR 和 TTY 检测
type Printer struct {
	out io.Writer
	err io.Writer
}

func New(out, errOut io.Writer) *Printer {
	return &Printer{out: out, err: errOut}
}

// Stdout 使用进程标准输出
func Stdout() *Printer {
	return New(os.Stdout, os.Stderr)
}

func (p *Printer) Success(format string, a ...any) {
	green.Fprintf(p.out, "✓ %s\n", fmt.Sprintf(format, a...))
}

func (p *Printer) Info(format string, a ...any) {
	fmt.Fprintf(p.out, format+"\n", a...)
}

func (p *Printer) Warning(format string, a ...any) {
	yellow.Fprintf(p.out, "! %s\n", fmt.Sprintf(format, a...))
}

func (p *Printer) Step(format string, a ...any) {
	cyan.Fprintf(p.out, "→ %s\n", fmt.Sprintf(format, a...))
}

// Error 打印到 stderr 并返回给 cobra 的简短错误
func (p *Printer) Error(title string, err error) error {
	red.Fprintf(p.err, "%s\n", title)
	if err != nil {
		fmt.Fprintf(p.err, "  %v\n", err)
	}
	return fmt.Errorf("%s", title)
}

// Tables 打印项目专属表
func (p *Printer) Tables(keys []shard.TableKey) {
	if len(keys) == 0 {
		p.Info("no project tables provisioned")
		return
	}
	for _, k := range keys {
		fmt.Fprintf(p.out, "%s  %s  %s\n", bold.Sprint(k.ProjectID()), k.Tasks().Name(), k.Stages().Name())
	}
}

// Groups 打印单表扫描结果
func (p *Printer) Groups(table string, groups []dedup.DuplicateGroup) {
	if len(groups) == 0 {
		p.Success("%s: no duplicates", table)
		return
	}
	yellow.Fprintf(p.out, "%s: %d duplicate group(s)\n", table, len(groups))
	for _, g := range groups {
		fmt.Fprintf(p.out, "  %q size=%d live=%d deleted=%d\n", g.Key, g.Size, g.Live, g.Deleted)
		for _, r := range g.Rows {
			state := "live"
			if r.Deleted {
				state = "deleted"
			}
			fmt.Fprintf(p.out, "    %s  %-7s  updated %s\n", r.ID, state, r.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
	}
}

// Report 打印维护报告，发现、已处理、失败、跳过分开列出
func (p *Printer) Report(r *dedup.Report) {
	mode := "apply"
	if r.Options.DryRun {
		mode = "dry run"
	}
	bold.Fprintf(p.out, "Duplicate maintenance (%s, key=%s, strategy=%s, disposition=%s)\n",
		mode, r.Options.GroupKey, r.Options.Strategy, r.Options.Disposition)

	for _, tr := range r.Tables {
		name := tr.Table
		if tr.ProjectID != "" {
			name = fmt.Sprintf("%s (project %s)", tr.Table, tr.ProjectID)
		}
		if tr.Error != "" {
			red.Fprintf(p.out, "✗ %s: scan failed: %s\n", name, tr.Error)
			continue
		}
		if len(tr.Found) == 0 {
			green.Fprintf(p.out, "✓ %s: clean\n", name)
			continue
		}
		cyan.Fprintf(p.out, "→ %s: %d group(s) found\n", name, len(tr.Found))
		for _, g := range tr.Found {
			fmt.Fprintf(p.out, "    found     %q size=%d live=%d\n", g.Key, g.Size, g.Live)
		}
		for _, res := range tr.Resolved {
			green.Fprintf(p.out, "    resolved  %q keep %s, %s %s",
				res.Key, res.Survivor, res.Disposition, strings.Join(res.Disposed, ","))
			if res.Reparented > 0 {
				green.Fprintf(p.out, ", reparented %d", res.Reparented)
			}
			if res.Downgraded {
				yellow.Fprint(p.out, " (hard delete downgraded)")
			}
			fmt.Fprintln(p.out)
		}
		for _, f := range tr.Failed {
			red.Fprintf(p.out, "    failed    %q: %s\n", f.Key, f.Error)
		}
		for _, s := range tr.Skipped {
			yellow.Fprintf(p.out, "    skipped   %q\n", s.Key)
		}
	}

	t := r.Totals()
	fmt.Fprintf(p.out, "\nfound %d, resolved %d, failed %d, skipped %d, table errors %d (%s)\n",
		t.Found, t.Resolved, t.Failed, t.Skipped, t.TableErrors, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
}

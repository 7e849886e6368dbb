package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nickyhof/CommitQuery"
	"github.com/nickyhof/CommitQuery/core"
	"github.com/nickyhof/CommitQuery/db"
	"github.com/nickyhof/CommitQuery/ps"
)

const (
	PromptColor  = "\033[36m" // Cyan
	ErrorColor   = "\033[31m" // Red
	SuccessColor = "\033[32m" // Green
	ResetColor   = "\033[0m"
	BoldColor    = "\033[1m"
)

const maxHistory = 1000

// Version is set at build time via -ldflags
var Version = "dev"

// CLI holds the CLI state
type CLI struct {
	instance    *CommitQuery.Instance
	out         io.Writer
	history     []string
	historyFile string
	project     string // current project context
	limit       int64  // 0 uses the instance default
}

type options struct {
	baseDir    string
	gitURL     string
	duckDBPath string
	sqlFile    string
	project    string
	name       string
	email      string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var opts options
	command := &cobra.Command{
		Use:          "commitquery",
		Short:        "Interactive shell for CommitQuery projects",
		Version:      Version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCLI(cmd.Context(), opts)
		},
	}

	flags := command.Flags()
	flags.StringVar(&opts.baseDir, "base-dir", "", "directory of the metadata repository (memory if empty)")
	flags.StringVar(&opts.gitURL, "git-url", "", "git URL of the metadata remote")
	flags.StringVar(&opts.duckDBPath, "duckdb-path", "", "DuckDB database file (in-memory if empty)")
	flags.StringVar(&opts.sqlFile, "sql-file", "", "SQL file to execute (non-interactive)")
	flags.StringVar(&opts.project, "project", "", "project to start in")
	flags.StringVar(&opts.name, "name", "CommitQuery", "user name for metadata commits")
	flags.StringVar(&opts.email, "email", "cli@commitquery.local", "user email for metadata commits")
	return command
}

func runCLI(ctx context.Context, opts options) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var persistence *ps.Persistence
	var err error
	if opts.baseDir == "" {
		persistence, err = ps.NewMemoryPersistence()
	} else {
		var remote *ps.RemoteConfig
		if opts.gitURL != "" {
			remote = &ps.RemoteConfig{URL: opts.gitURL}
		}
		persistence, err = ps.NewFilePersistence(opts.baseDir, remote)
	}
	if err != nil {
		return err
	}

	engine, err := db.NewEngine(opts.duckDBPath)
	if err != nil {
		return err
	}
	instance := CommitQuery.Open(persistence, engine,
		CommitQuery.WithIdentity(core.Identity{Name: opts.name, Email: opts.email}))
	defer instance.Close()
	if err := instance.Provision(ctx); err != nil {
		return err
	}

	cli := &CLI{
		instance:    instance,
		out:         os.Stdout,
		historyFile: getHistoryPath(),
		project:     opts.project,
	}

	if opts.sqlFile != "" {
		return cli.importFile(ctx, opts.sqlFile)
	}

	printBanner()
	cli.loadHistory()
	defer cli.saveHistory()
	cli.run(ctx, os.Stdin)
	return nil
}

func printBanner() {
	fmt.Println()
	fmt.Printf("%s%sCommitQuery v%s%s\n", BoldColor, PromptColor, Version, ResetColor)
	fmt.Println("SQL over projects with materialized views")
	fmt.Println()
	fmt.Println("Type .help for commands, .quit to exit")
	fmt.Println()
}

func (cli *CLI) printf(color, format string, args ...any) {
	fmt.Fprintf(cli.out, color+format+ResetColor+"\n", args...)
}

func (cli *CLI) run(ctx context.Context, input io.Reader) {
	reader := bufio.NewReader(input)
	var buffer strings.Builder

	for {
		fmt.Fprint(cli.out, cli.getPrompt(buffer.Len() > 0))

		line, err := reader.ReadString('\n')
		if err != nil {
			cli.printf(SuccessColor, "\nGoodbye!")
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}

		if buffer.Len() == 0 && strings.HasPrefix(line, ".") {
			cli.addToHistory(line)
			if !cli.handleCommand(ctx, line) {
				return
			}
			continue
		}

		// statements end with a semicolon and may span lines
		buffer.WriteString(line)
		trimmed := strings.TrimSpace(buffer.String())
		if !strings.HasSuffix(trimmed, ";") {
			buffer.WriteString(" ")
			continue
		}
		buffer.Reset()

		statement := strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
		if statement == "" {
			continue
		}
		cli.addToHistory(statement + ";")
		cli.executeStatement(ctx, statement)
	}
}

func (cli *CLI) getPrompt(multiLine bool) string {
	if multiLine {
		return fmt.Sprintf("%s   ...>%s ", PromptColor, ResetColor)
	}

	projectPart := ""
	if cli.project != "" {
		projectPart = fmt.Sprintf(" (%s)", cli.project)
	}
	return fmt.Sprintf("%scommitquery%s>%s ", PromptColor, projectPart, ResetColor)
}

// handleCommand runs a dot command and reports whether the shell continues.
func (cli *CLI) handleCommand(ctx context.Context, input string) bool {
	parts := strings.Fields(strings.TrimSpace(input))
	if len(parts) == 0 {
		return true
	}

	switch strings.ToLower(parts[0]) {
	case ".quit", ".exit", ".q":
		cli.printf(SuccessColor, "Goodbye!")
		return false

	case ".help", ".h", ".?":
		cli.printHelp()

	case ".projects":
		projects, err := cli.instance.Persistence.ListProjects()
		if err != nil {
			cli.printf(ErrorColor, "✗ Error: %v", err)
			break
		}
		for _, project := range projects {
			fmt.Fprintln(cli.out, project)
		}

	case ".create":
		if len(parts) != 2 {
			cli.printf(ErrorColor, "✗ Usage: .create <project>")
			break
		}
		if err := cli.instance.CreateProject(ctx, parts[1]); err != nil {
			cli.printf(ErrorColor, "✗ Error: %v", err)
			break
		}
		cli.project = parts[1]
		cli.printf(SuccessColor, "✓ Created project: %s", parts[1])

	case ".drop":
		if len(parts) != 2 {
			cli.printf(ErrorColor, "✗ Usage: .drop <project>")
			break
		}
		if err := cli.instance.DropProject(ctx, parts[1]); err != nil {
			cli.printf(ErrorColor, "✗ Error: %v", err)
			break
		}
		if cli.project == parts[1] {
			cli.project = ""
		}
		cli.printf(SuccessColor, "✓ Dropped project: %s", parts[1])

	case ".use":
		if len(parts) != 2 {
			cli.printf(ErrorColor, "✗ Usage: .use <project>")
			break
		}
		if _, err := cli.instance.Persistence.GetProject(parts[1]); err != nil {
			cli.printf(ErrorColor, "✗ Error: %v", err)
			break
		}
		cli.project = parts[1]
		cli.printf(SuccessColor, "✓ Using project: %s", cli.project)

	case ".views":
		cli.showViews(ctx)

	case ".view":
		cli.createView(ctx, parts)

	case ".dropview":
		if len(parts) != 2 || !cli.requireProject() {
			cli.printf(ErrorColor, "✗ Usage: .dropview <name>")
			break
		}
		if err := cli.instance.DropMaterializedView(ctx, cli.project, parts[1]); err != nil {
			cli.printf(ErrorColor, "✗ Error: %v", err)
			break
		}
		cli.printf(SuccessColor, "✓ Dropped view: %s", parts[1])

	case ".metadata":
		if len(parts) < 2 || !cli.requireProject() {
			cli.printf(ErrorColor, "✗ Usage: .metadata <query>")
			break
		}
		query := strings.TrimSuffix(strings.TrimSpace(strings.Join(parts[1:], " ")), ";")
		columns, err := cli.instance.Executor.Metadata(ctx, cli.project, query)
		if err != nil {
			cli.printf(ErrorColor, "✗ Error: %v", err)
			break
		}
		for _, column := range columns {
			fmt.Fprintf(cli.out, "%s\t%s\n", column.Name, column.Type)
		}

	case ".limit":
		if len(parts) != 2 {
			cli.printf(ErrorColor, "✗ Usage: .limit <rows>")
			break
		}
		limit, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || limit <= 0 {
			cli.printf(ErrorColor, "✗ Invalid limit: %s", parts[1])
			break
		}
		cli.limit = limit
		cli.printf(SuccessColor, "✓ Row ceiling: %d", limit)

	case ".log":
		limit := 10
		if len(parts) == 2 {
			if n, err := strconv.Atoi(parts[1]); err == nil && n > 0 {
				limit = n
			}
		}
		cli.printLog(limit)

	case ".clear", ".cls":
		fmt.Fprint(cli.out, "\033[H\033[2J")

	case ".history":
		cli.printHistory()

	case ".version":
		fmt.Fprintf(cli.out, "CommitQuery version %s\n", Version)

	case ".import":
		if len(parts) != 2 {
			cli.printf(ErrorColor, "✗ Usage: .import <file.sql>")
			break
		}
		if err := cli.importFile(ctx, parts[1]); err != nil {
			cli.printf(ErrorColor, "✗ Error: %v", err)
		}

	default:
		cli.printf(ErrorColor, "✗ Unknown command: %s (type .help for commands)", parts[0])
	}

	return true
}

func (cli *CLI) printHelp() {
	w := cli.out
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s%sSpecial Commands:%s\n", BoldColor, PromptColor, ResetColor)
	fmt.Fprintln(w, "  .help, .h                          Show this help message")
	fmt.Fprintln(w, "  .quit, .exit                       Exit the CLI")
	fmt.Fprintln(w, "  .projects                          List all projects")
	fmt.Fprintln(w, "  .create <project>                  Create a project and use it")
	fmt.Fprintln(w, "  .drop <project>                    Drop a project with its tables and views")
	fmt.Fprintln(w, "  .use <project>                     Set the current project")
	fmt.Fprintln(w, "  .views                             List materialized views of the project")
	fmt.Fprintln(w, "  .view <name> <interval> <query>    Create a materialized view, e.g. .view daily 1h SELECT ...")
	fmt.Fprintln(w, "  .dropview <name>                   Drop a materialized view")
	fmt.Fprintln(w, "  .metadata <query>                  Show the columns a query returns")
	fmt.Fprintln(w, "  .limit <rows>                      Set the row ceiling of queries")
	fmt.Fprintln(w, "  .import <file>                     Execute SQL statements from a file")
	fmt.Fprintln(w, "  .log [n]                           Show the last metadata commits")
	fmt.Fprintln(w, "  .history                           Show command history")
	fmt.Fprintln(w, "  .clear                             Clear the screen")
	fmt.Fprintln(w, "  .version                           Show version info")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s%sStatements:%s\n", BoldColor, PromptColor, ResetColor)
	fmt.Fprintln(w, "  SELECT and WITH queries run in the current project; read views as materialized.<name>.")
	fmt.Fprintln(w, "  Other statements go to DuckDB unchanged, e.g. CREATE TABLE <project>.<table> AS ...")
	fmt.Fprintln(w)
}

func (cli *CLI) printLog(limit int) {
	transactions, err := cli.instance.Persistence.History(limit)
	if err != nil {
		cli.printf(ErrorColor, "✗ Error: %v", err)
		return
	}
	for _, transaction := range transactions {
		fmt.Fprintf(cli.out, "%s  %s  %s  %s\n", transaction.Id[:8], transaction.When.UTC().Format(time.RFC3339),
			transaction.Author, strings.TrimSpace(transaction.Message))
	}
}

func (cli *CLI) requireProject() bool {
	if cli.project == "" {
		cli.printf(ErrorColor, "✗ No project selected (use .use <project>)")
		return false
	}
	return true
}

func (cli *CLI) showViews(ctx context.Context) {
	if !cli.requireProject() {
		return
	}
	views, err := cli.instance.Views.ListMaterializedViews(ctx, cli.project)
	if err != nil {
		cli.printf(ErrorColor, "✗ Error: %v", err)
		return
	}

	table := db.NewTable(cli.out)
	table.Header([]string{"name", "interval", "last update", "query"})
	for _, view := range views {
		lastUpdate := "never"
		if view.LastUpdate != nil {
			lastUpdate = view.LastUpdate.UTC().Format(time.RFC3339)
		}
		table.Row([]string{view.Name, view.UpdateInterval.String(), lastUpdate, truncate(view.Query, 50)})
	}
	table.Render()
}

func (cli *CLI) createView(ctx context.Context, parts []string) {
	if len(parts) < 4 {
		cli.printf(ErrorColor, "✗ Usage: .view <name> <interval> <query>")
		return
	}
	if !cli.requireProject() {
		return
	}
	interval, err := time.ParseDuration(parts[2])
	if err != nil {
		cli.printf(ErrorColor, "✗ Invalid interval: %s", parts[2])
		return
	}

	view := core.MaterializedView{
		Project:        cli.project,
		Name:           parts[1],
		Query:          strings.TrimSuffix(strings.Join(parts[3:], " "), ";"),
		UpdateInterval: interval,
	}
	if err := cli.instance.CreateMaterializedView(ctx, view); err != nil {
		cli.printf(ErrorColor, "✗ Error: %v", err)
		return
	}
	cli.printf(SuccessColor, "✓ Created view: materialized.%s", view.Name)
}

func isQuery(statement string) bool {
	fields := strings.Fields(statement)
	if len(fields) == 0 {
		return false
	}
	keyword := strings.ToUpper(strings.TrimLeft(fields[0], "("))
	return keyword == "SELECT" || keyword == "WITH" || keyword == ""
}

// execute runs a query through the executor and anything else on the engine.
func (cli *CLI) execute(ctx context.Context, statement string) (*db.QueryResult, error) {
	if !isQuery(statement) {
		return nil, cli.instance.Engine.Exec(ctx, statement)
	}
	if cli.project == "" {
		return nil, fmt.Errorf("no project selected (use .use <project>)")
	}

	var execution db.QueryExecution
	var err error
	if cli.limit > 0 {
		execution, err = cli.instance.Executor.ExecuteQuery(ctx, cli.project, statement, cli.limit)
	} else {
		execution, err = cli.instance.Executor.ExecuteQueryDefault(ctx, cli.project, statement)
	}
	if err != nil {
		return nil, err
	}
	result, err := execution.Result().Get(ctx)
	if err != nil {
		execution.Kill()
		return nil, err
	}
	return result, nil
}

func (cli *CLI) executeStatement(ctx context.Context, statement string) {
	result, err := cli.execute(ctx, statement)
	switch {
	case err != nil:
		cli.printf(ErrorColor, "✗ Error: %v", err)
	case result == nil:
		cli.printf(SuccessColor, "✓ OK")
	default:
		result.Fprint(cli.out)
	}
}

func (cli *CLI) addToHistory(cmd string) {
	// Don't add duplicates of the last command
	if len(cli.history) > 0 && cli.history[len(cli.history)-1] == cmd {
		return
	}
	cli.history = append(cli.history, cmd)

	if len(cli.history) > maxHistory {
		cli.history = cli.history[len(cli.history)-maxHistory:]
	}
}

func (cli *CLI) printHistory() {
	if len(cli.history) == 0 {
		fmt.Fprintln(cli.out, "No command history")
		return
	}

	start := max(len(cli.history)-20, 0)
	for i := start; i < len(cli.history); i++ {
		fmt.Fprintf(cli.out, "  %3d  %s\n", i+1, cli.history[i])
	}
}

func getHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".commitquery_history")
}

func (cli *CLI) loadHistory() {
	if cli.historyFile == "" {
		return
	}

	file, err := os.Open(cli.historyFile)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		cli.history = append(cli.history, scanner.Text())
	}
}

func (cli *CLI) saveHistory() {
	if cli.historyFile == "" {
		return
	}

	file, err := os.Create(cli.historyFile)
	if err != nil {
		return
	}
	defer file.Close()

	for _, entry := range cli.history[max(len(cli.history)-maxHistory, 0):] {
		_, _ = file.WriteString(entry + "\n")
	}
}

// importFile executes the statements of a file. Lines starting with a dot are
// shell commands, so a file can create projects and views.
func (cli *CLI) importFile(ctx context.Context, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	succeeded, failed := 0, 0
	for i, statement := range splitStatements(string(data)) {
		if strings.HasPrefix(statement, ".") {
			cli.handleCommand(ctx, statement)
			continue
		}

		result, err := cli.execute(ctx, statement)
		switch {
		case err != nil:
			cli.printf(ErrorColor, "[%d] ✗ %s", i+1, truncate(statement, 50))
			fmt.Fprintf(cli.out, "      Error: %v\n", err)
			failed++
		case result != nil && result.IsFailed():
			cli.printf(ErrorColor, "[%d] ✗ %s", i+1, truncate(statement, 50))
			fmt.Fprintf(cli.out, "      Error: %v\n", result.Error)
			failed++
		case result != nil:
			cli.printf(SuccessColor, "[%d] ✓ %s (%d rows)", i+1, truncate(statement, 50), len(result.Rows))
			succeeded++
		default:
			cli.printf(SuccessColor, "[%d] ✓ %s", i+1, truncate(statement, 50))
			succeeded++
		}
	}

	cli.printf(SuccessColor, "\n✓ Import complete: %d succeeded, %d failed", succeeded, failed)
	return nil
}

// splitStatements splits SQL content into statements. A line starting with a
// dot is a statement on its own.
func splitStatements(content string) []string {
	var statements []string
	var current strings.Builder
	inString := false
	stringChar := byte(0)

	flush := func() {
		if statement := strings.TrimSpace(current.String()); statement != "" {
			statements = append(statements, statement)
		}
		current.Reset()
	}

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if !inString && ch == '.' && strings.TrimSpace(current.String()) == "" {
			end := strings.IndexByte(content[i:], '\n')
			if end < 0 {
				end = len(content) - i
			}
			current.Reset()
			current.WriteString(content[i : i+end])
			flush()
			i += end
			continue
		}

		if (ch == '\'' || ch == '"') && (i == 0 || content[i-1] != '\\') {
			if !inString {
				inString = true
				stringChar = ch
			} else if ch == stringChar {
				inString = false
			}
		}

		if !inString && ch == '-' && i+1 < len(content) && content[i+1] == '-' {
			for i < len(content) && content[i] != '\n' {
				i++
			}
			continue
		}

		if !inString && ch == ';' {
			flush()
			continue
		}

		current.WriteByte(ch)
	}

	flush()
	return statements
}

// truncate shortens a string to max length with ellipsis
func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// Command buddy is the BuddyAI CLI client.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/HARSHAD-POTDAR-02/buddyai/internal/version"
)

const defaultServer = "http://localhost:9090"

func main() {
	var (
		serverURL = pflag.String("server", defaultServer, "buddyd server URL")
		token     = pflag.String("token", os.Getenv("BUDDY_TOKEN"), "JWT auth token")
	)
	pflag.Usage = usage
	pflag.Parse()

	args := pflag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cli := &Client{
		BaseURL:    strings.TrimRight(*serverURL, "/"),
		Token:      *token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	cmd := args[0]
	rest := args[1:]

	var err error
	switch cmd {
	case "version":
		err = cmdVersion(rest)
	case "status":
		err = cli.cmdStatus(rest)
	case "login":
		err = cli.cmdLogin(rest)
	case "tasks":
		err = cli.cmdTasks(rest)
	case "task":
		err = cli.cmdTask(rest)
	case "ask":
		err = cli.cmdAsk(rest)
	case "goal":
		err = cli.cmdGoal(rest)
	case "handlers":
		err = cli.cmdHandlers(rest)
	case "history":
		err = cli.cmdHistory(rest)
	case "serve":
		fmt.Fprintln(os.Stderr, "use buddyd to run the server")
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `buddy — BuddyAI CLI

Usage:
  buddy [flags] <command> [args]

Flags:
  --server  <url>    server URL (default: http://localhost:9090)
  --token   <token>  JWT auth token (or $BUDDY_TOKEN)

Commands:
  version                    print version
  status                     show server status
  login <user> <pass>        obtain an auth token
  tasks                      list tasks, most urgent first
  task create <title>        create a task
  task show <id>             show a task
  task done <id>             mark a task completed
  task delete <id>           delete a task and its subtasks
  task dispatch <id>         submit a task for dispatch
  task depend <id> <dep-id>  add a dependency
  ask <query>                route a query to a handler
  goal <goal>                decompose a complex goal into subtasks
  handlers                   show handler busy states
  history                    show recent exchanges
`)
}

// --- version ---

func cmdVersion(_ []string) error {
	fmt.Println(version.String())
	return nil
}

// Client holds HTTP client state for CLI commands.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// get performs a GET and decodes JSON into v.
func (c *Client) get(path string, v any) error {
	req, err := http.NewRequest(http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// post performs a POST and decodes JSON response into v (may be nil).
func (c *Client) post(path string, body io.Reader, v any) error {
	return c.send(http.MethodPost, path, body, v)
}

// patch performs a PATCH and decodes JSON response into v (may be nil).
func (c *Client) patch(path string, body io.Reader, v any) error {
	return c.send(http.MethodPatch, path, body, v)
}

// del performs a DELETE, expecting no response body.
func (c *Client) del(path string) error {
	return c.send(http.MethodDelete, path, nil, nil)
}

func (c *Client) send(method, path string, body io.Reader, v any) error {
	req, err := http.NewRequest(method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if v != nil && resp.ContentLength != 0 {
		return json.NewDecoder(resp.Body).Decode(v)
	}
	return nil
}

// --- status ---

func (c *Client) cmdStatus(_ []string) error {
	var result map[string]any
	if err := c.get("/api/status", &result); err != nil {
		return err
	}
	fmt.Printf("status:  %s\n", strVal(result["status"]))
	fmt.Printf("version: %s\n", strVal(result["version"]))
	fmt.Printf("uptime:  %s\n", strVal(result["uptime"]))
	return nil
}

// --- login ---

func (c *Client) cmdLogin(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: buddy login <user> <pass>")
	}
	body := fmt.Sprintf(`{"username":%q,"password":%q}`, args[0], args[1])
	var result map[string]string
	if err := c.post("/api/auth/login", strings.NewReader(body), &result); err != nil {
		return err
	}
	fmt.Println(result["token"])
	return nil
}

// --- tasks ---

func (c *Client) cmdTasks(_ []string) error {
	var tasks []map[string]any
	if err := c.get("/api/tasks", &tasks); err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("no tasks")
		return nil
	}
	fmt.Printf("%-36s %-30s %-12s %-8s %6s\n", "ID", "TITLE", "STATUS", "PRIORITY", "SCORE")
	fmt.Println(strings.Repeat("-", 97))
	for _, t := range tasks {
		fmt.Printf("%-36s %-30s %-12s %-8s %6s\n",
			strVal(t["id"]),
			truncate(strVal(t["title"]), 29),
			strVal(t["status"]),
			strVal(t["priority"]),
			strVal(t["score"]),
		)
	}
	return nil
}

// --- task subcommands ---

func (c *Client) cmdTask(args []string) error {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: buddy task <create|show|done|delete|dispatch|depend> ...")
		os.Exit(1)
	}
	sub := args[0]
	switch sub {
	case "create":
		title := strings.Join(args[1:], " ")
		body := fmt.Sprintf(`{"title":%q}`, title)
		var result map[string]any
		if err := c.post("/api/tasks", strings.NewReader(body), &result); err != nil {
			return err
		}
		fmt.Printf("created task %s\n", strVal(result["id"]))
	case "show":
		var result map[string]any
		if err := c.get("/api/tasks/"+args[1], &result); err != nil {
			return err
		}
		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(out))
	case "done":
		// Setting progress to 100 completes the task regardless of its
		// current state; a direct status change would be bound by the
		// transition rules.
		body := `{"progress":100}`
		if err := c.patch("/api/tasks/"+args[1], strings.NewReader(body), nil); err != nil {
			return err
		}
		fmt.Printf("task %s completed\n", args[1])
	case "dispatch":
		var result map[string]string
		if err := c.post("/api/tasks/"+args[1]+"/dispatch", nil, &result); err != nil {
			return err
		}
		fmt.Printf("task %s queued\n", args[1])
	case "delete":
		if err := c.del("/api/tasks/" + args[1]); err != nil {
			return err
		}
		fmt.Printf("task %s deleted\n", args[1])
	case "depend":
		if len(args) < 3 {
			return fmt.Errorf("usage: buddy task depend <id> <dep-id>")
		}
		body := fmt.Sprintf(`{"depends_on":%q}`, args[2])
		if err := c.post("/api/tasks/"+args[1]+"/dependencies", strings.NewReader(body), nil); err != nil {
			return err
		}
		fmt.Printf("task %s now depends on %s\n", args[1], args[2])
	default:
		return fmt.Errorf("unknown task subcommand: %s", sub)
	}
	return nil
}

// --- dispatch ---

func (c *Client) cmdAsk(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: buddy ask <query>")
	}
	query := strings.Join(args, " ")
	body := fmt.Sprintf(`{"query":%q}`, query)
	if err := c.post("/api/ask", strings.NewReader(body), nil); err != nil {
		return err
	}
	fmt.Println("queued; watch `buddy history` for the response")
	return nil
}

func (c *Client) cmdGoal(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: buddy goal <goal>")
	}
	goal := strings.Join(args, " ")
	body := fmt.Sprintf(`{"goal":%q}`, goal)
	var result map[string]string
	if err := c.post("/api/goals", strings.NewReader(body), &result); err != nil {
		return err
	}
	fmt.Printf("goal decomposed under parent task %s\n", result["parent_id"])
	return nil
}

func (c *Client) cmdHandlers(_ []string) error {
	var busy map[string]bool
	if err := c.get("/api/handlers", &busy); err != nil {
		return err
	}
	fmt.Printf("%-22s %s\n", "HANDLER", "STATE")
	fmt.Println(strings.Repeat("-", 30))
	for name, b := range busy {
		state := "idle"
		if b {
			state = "busy"
		}
		fmt.Printf("%-22s %s\n", name, state)
	}
	return nil
}

func (c *Client) cmdHistory(_ []string) error {
	var events []map[string]any
	if err := c.get("/api/history?limit=20", &events); err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("no history")
		return nil
	}
	for _, ev := range events {
		fmt.Printf("[%s] %s\n", strVal(ev["handler"]), truncate(strVal(ev["query"]), 60))
		fmt.Printf("    %s\n", truncate(strVal(ev["response"]), 100))
	}
	return nil
}

// --- helpers ---

func strVal(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

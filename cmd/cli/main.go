package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
)

type scenario struct {
	Name        string
	Description string
}

type model struct {
	scenarios   []scenario
	selectedScn int
	status      string
	detail      string
	busy        bool
}

func initialModel() model {
	return model{
		scenarios: []scenario{
			{"seed", "Seed stock for demo products"},
			{"checkout", "Create an order and wait for reservation"},
			{"pay", "Checkout, then settle a successful payment"},
			{"pay-fail", "Checkout, then settle a failing payment"},
			{"insufficient", "Order more than available stock"},
		},
		status: "Ready",
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up":
			if m.selectedScn > 0 {
				m.selectedScn--
			}
		case "down":
			if m.selectedScn < len(m.scenarios)-1 {
				m.selectedScn++
			}
		case "enter":
			if m.busy {
				return m, nil
			}
			m.busy = true
			m.status = "Running..."
			return m, runScenarioCmd(m.scenarios[m.selectedScn].Name)
		}
	case scenarioResult:
		m.busy = false
		m.status = msg.status
		m.detail = msg.detail
	}
	return m, nil
}

func (m model) View() string {
	b := &strings.Builder{}
	fmt.Fprintln(b, "Ecommerce-Backend saga CLI")
	fmt.Fprintln(b, "")
	fmt.Fprintln(b, "Scenarios:")
	for i, scn := range m.scenarios {
		marker := " "
		if i == m.selectedScn {
			marker = ">"
		}
		fmt.Fprintf(b, " %s %s - %s\n", marker, scn.Name, scn.Description)
	}
	fmt.Fprintln(b, "")
	fmt.Fprintf(b, "Status: %s\n", m.status)
	if m.detail != "" {
		fmt.Fprintf(b, "Detail: %s\n", m.detail)
	}
	fmt.Fprintln(b, "\nControls: up/down select scenario, enter to run, q to quit")
	return b.String()
}

type scenarioResult struct {
	status string
	detail string
}

type endpoints struct {
	order     string
	inventory string
	payment   string
}

func loadEndpoints() endpoints {
	return endpoints{
		order:     getenv("ORDER_BASE_URL", "http://localhost:8081"),
		inventory: getenv("INVENTORY_BASE_URL", "http://localhost:8082"),
		payment:   getenv("PAYMENT_BASE_URL", "http://localhost:8083"),
	}
}

func runScenarioCmd(scn string) tea.Cmd {
	return func() tea.Msg {
		eps := loadEndpoints()
		switch scn {
		case "seed":
			return runSeed(eps)
		case "checkout":
			return runCheckout(eps, 1)
		case "pay":
			return runPay(eps, false)
		case "pay-fail":
			return runPay(eps, true)
		case "insufficient":
			return runCheckout(eps, 10_000)
		default:
			return scenarioResult{status: fmt.Sprintf("Unknown scenario: %s", scn)}
		}
	}
}

func runSeed(eps endpoints) scenarioResult {
	for _, sku := range []string{"sku-1", "sku-2"} {
		url := strings.TrimRight(eps.inventory, "/") + "/api/v1/inventory/" + sku
		if _, err := doJSON(http.MethodPut, url, map[string]any{"available": 100}, ""); err != nil {
			return scenarioResult{status: fmt.Sprintf("Seed failed for %s: %v", sku, err)}
		}
	}
	return scenarioResult{status: "Seeded sku-1 and sku-2 with 100 units each"}
}

func runCheckout(eps endpoints, quantity int) scenarioResult {
	body, err := createOrder(eps, quantity)
	if err != nil {
		return scenarioResult{status: fmt.Sprintf("Checkout failed: %v", err)}
	}
	status, err := awaitOrderStatus(eps, body.ID, 15*time.Second, "reserved", "cancelled")
	if err != nil {
		return scenarioResult{status: "Checkout accepted, saga did not settle in time", detail: body.ID}
	}
	return scenarioResult{
		status: fmt.Sprintf("Order %s reached %q", body.ID, status),
		detail: fmt.Sprintf("total=%d", body.TotalAmount),
	}
}

func runPay(eps endpoints, shouldFail bool) scenarioResult {
	body, err := createOrder(eps, 1)
	if err != nil {
		return scenarioResult{status: fmt.Sprintf("Checkout failed: %v", err)}
	}
	if _, err := awaitOrderStatus(eps, body.ID, 15*time.Second, "reserved"); err != nil {
		return scenarioResult{status: "Order never reached reserved, skipping payment", detail: body.ID}
	}

	payURL := strings.TrimRight(eps.payment, "/") + "/api/v1/payments"
	payReq := map[string]any{
		"orderId":  body.ID,
		"amount":   body.TotalAmount,
		"simulate": map[string]any{"shouldFail": shouldFail, "delayMs": 200},
	}
	if _, err := doJSON(http.MethodPost, payURL, payReq, ""); err != nil {
		return scenarioResult{status: fmt.Sprintf("Payment create failed: %v", err)}
	}

	want := "paid"
	if shouldFail {
		want = "cancelled"
	}
	status, err := awaitOrderStatus(eps, body.ID, 20*time.Second, want)
	if err != nil {
		return scenarioResult{status: fmt.Sprintf("Order %s did not reach %q in time", body.ID, want)}
	}
	return scenarioResult{status: fmt.Sprintf("Order %s reached %q", body.ID, status)}
}

type orderBody struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	TotalAmount int64  `json:"totalAmount"`
}

func createOrder(eps endpoints, quantity int) (orderBody, error) {
	url := strings.TrimRight(eps.order, "/") + "/api/v1/orders"
	req := map[string]any{
		"userId": "cli-demo",
		"items": []map[string]any{
			{"productId": "sku-1", "quantity": quantity, "price": 1200},
		},
	}
	raw, err := doJSON(http.MethodPost, url, req, uuid.NewString())
	if err != nil {
		return orderBody{}, err
	}
	var body orderBody
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return orderBody{}, err
	}
	return body, nil
}

func awaitOrderStatus(eps endpoints, orderID string, timeout time.Duration, want ...string) (string, error) {
	deadline := time.Now().Add(timeout)
	url := strings.TrimRight(eps.order, "/") + "/api/v1/orders/" + orderID
	for time.Now().Before(deadline) {
		raw, err := doJSON(http.MethodGet, url, nil, "")
		if err == nil {
			var body orderBody
			if err := json.Unmarshal([]byte(raw), &body); err == nil {
				for _, w := range want {
					if body.Status == w {
						return body.Status, nil
					}
				}
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	return "", fmt.Errorf("order %s did not settle within %s", orderID, timeout)
}

func doJSON(method, url string, payload any, idemKey string) (string, error) {
	var reader io.Reader
	if payload != nil {
		data, _ := json.Marshal(payload)
		reader = bytes.NewReader(data)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return string(body), nil
}

func main() {
	runCmd := flag.String("run", "", "run scenario: seed|checkout|pay|pay-fail|insufficient")
	flag.Parse()

	if *runCmd != "" {
		res := runScenarioCmd(*runCmd)().(scenarioResult)
		fmt.Println(res.status)
		if res.detail != "" {
			fmt.Println(res.detail)
		}
		return
	}

	p := tea.NewProgram(initialModel())
	if _, err := p.Run(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}

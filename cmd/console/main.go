package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/Iwinswap/iwinswap-solvency-pool-go/cmd/console/config"
	"github.com/Iwinswap/iwinswap-solvency-pool-go/pkg/wad"
	"github.com/Iwinswap/iwinswap-solvency-pool-go/protocols/solvency"
	"github.com/Iwinswap/iwinswap-solvency-pool-go/streams/jsonrpc/client"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// --- VISUAL CONSTANTS ---
const (
	Reset  = "\033[0m"
	Bold   = "\033[1m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Cyan   = "\033[36m"
	Gray   = "\033[37m"

	DefaultClientStateBufferSize = 100
	queryTimeout                 = 5 * time.Second
)

// header prints a styled section header
func header(title string) {
	fmt.Println("\n" + Bold + Cyan + ":: " + title + " ::" + Reset)
}

// SafeState is a thread-safe container for the latest pool update.
type SafeState struct {
	mu     sync.RWMutex
	update *client.Update
}

func (s *SafeState) Update(u *client.Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.update = u
}

func (s *SafeState) Get() *client.Update {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.update
}

// console holds what the menu handlers need.
type console struct {
	ctx     context.Context
	state   *SafeState
	querier *client.Querier
	reader  *bufio.Reader
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// --- 1. SETUP LOGGING (To File) ---
	logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer logFile.Close()

	rootLogger := slog.New(slog.NewJSONHandler(logFile, nil))

	closeApp := func() {
		fmt.Println("\n" + Red + "Fatal error occurred. Check " + cfg.LogFile + " for details." + Reset)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- 2. INITIALIZE CLIENTS ---
	stream, err := client.NewClient(ctx, client.Config{
		URL:        cfg.StateStreamURL,
		Pool:       cfg.PoolAddress(),
		Logger:     rootLogger.With("component", "jsonrpc-client"),
		BufferSize: DefaultClientStateBufferSize,
	})
	if err != nil {
		rootLogger.Error("Failed to initialize Client", "pool", cfg.Pool, "error", err)
		closeApp()
	}

	querier, err := client.Dial(ctx, cfg.StateStreamURL)
	if err != nil {
		rootLogger.Error("Failed to dial querier", "url", cfg.StateStreamURL, "error", err)
		closeApp()
	}
	defer querier.Close()

	// --- 3. START CONSOLE & STATE LOOP ---
	c := &console{
		ctx:     ctx,
		state:   &SafeState{},
		querier: querier,
		reader:  bufio.NewReader(os.Stdin),
	}

	fmt.Println(Green + "Starting Solvency Pool Console..." + Reset)
	fmt.Println("Logs are being written to '" + cfg.LogFile + "'")
	go c.run()

	for {
		select {
		case u := <-stream.Updates():
			c.state.Update(u)

		case err := <-stream.Err():
			rootLogger.Error("Fatal client error", "error", err)
			closeApp()

		case <-ctx.Done():
			fmt.Println("\n" + Yellow + "Shutting down..." + Reset)
			return
		}
	}
}

// run handles user input and display.
func (c *console) run() {
	time.Sleep(500 * time.Millisecond)

	for {
		if c.ctx.Err() != nil {
			return
		}

		printMenu()

		fmt.Print(Bold + "Enter selection: " + Reset)
		input, err := c.reader.ReadString('\n')
		if err != nil {
			fmt.Println("Error reading input:", err)
			continue
		}

		c.handleCommand(strings.TrimSpace(input))

		fmt.Println("\n" + Gray + "[Press Enter to continue]" + Reset)
		c.reader.ReadString('\n')
	}
}

func printMenu() {
	fmt.Print("\033[H\033[2J") // Clear screen
	fmt.Println(Bold + "SOLVENCY POOL CONSOLE" + Reset + Gray + " | v0.1.0" + Reset)
	fmt.Println(Gray + "-----------------------------------" + Reset)
	fmt.Printf(" %s1.%s Pool Summary\n", Cyan, Reset)
	fmt.Printf(" %s2.%s Quote Swap\n", Cyan, Reset)
	fmt.Printf(" %s3.%s Quote Withdraw %s(same or other asset)%s\n", Cyan, Reset, Gray, Reset)
	fmt.Printf(" %s4.%s Find Pools %s(by Token Symbol/Address)%s\n", Cyan, Reset, Gray, Reset)
	fmt.Printf(" %s5.%s Watch Pool %s(Live Monitor)%s\n", Cyan, Reset, Gray, Reset)
	fmt.Println(Gray + "-----------------------------------" + Reset)
	fmt.Printf(" %sh.%s Help\n", Yellow, Reset)
	fmt.Printf(" %sq.%s Quit\n", Red, Reset)
	fmt.Println("")
}

func (c *console) handleCommand(input string) {
	u := c.state.Get()

	// Allow help and quit even if state isn't ready
	if u == nil && input != "q" && input != "h" {
		fmt.Println("\n" + Yellow + "[INFO] Waiting for first pool update... (Check connection/logs)" + Reset)
		return
	}

	switch input {
	case "1":
		printPool(u)
	case "2":
		c.quoteSwap(u.Pool)
	case "3":
		c.quoteWithdraw(u.Pool)
	case "4":
		c.findPoolsByToken()
	case "5":
		c.watchPool()
	case "h":
		printHelp()
	case "q":
		exitConsole()
	default:
		fmt.Println(Red + "Unknown command." + Reset)
	}
}

// --- COMMAND HANDLERS ---

func printHelp() {
	fmt.Print("\033[H\033[2J")

	header("SOLVENCY POOL")
	fmt.Println("Every asset in the pool keeps its own ledger: " + Yellow + "cash" + Reset + " held, " +
		Yellow + "liability" + Reset + " owed to LPs, and LP " + Yellow + "supply" + Reset + ".")
	fmt.Println("The " + Cyan + "coverage ratio" + Reset + " r = cash / liability drives every price.")
	fmt.Println("")
	fmt.Println(Bold + "SWAPS" + Reset)
	fmt.Println("   Selling into a well covered asset is cheap. Selling into an asset whose")
	fmt.Println("   coverage would fall below the threshold r* costs a solvency premium.")
	fmt.Println("   A haircut is retained on every swap and partly shared with LPs.")
	fmt.Println("")
	fmt.Println(Bold + "WITHDRAWALS" + Reset)
	fmt.Println("   Redeeming LP of an under-covered asset pays a fee that restores coverage.")
	fmt.Println("   Redeeming into another asset of the same group is quoted as a withdraw")
	fmt.Println("   followed by a swap.")
	fmt.Println("")
	fmt.Println(Gray + "Amounts are entered in token units, LP in 18-decimal units." + Reset)
}

func printPool(u *client.Update) {
	p := u.Pool
	header("POOL " + p.Address.Hex())
	printField := func(key string, value any) {
		fmt.Printf("  %s%-16s%s %v\n", Gray, key+":", Reset, value)
	}
	printField("Threshold r*", formatWad(p.RThreshold))
	printField("Haircut rate", formatWad(p.HaircutRate))
	printField("Retention", formatWad(p.RetentionRatio))
	printField("Oracle priced", p.OraclePriced)
	printField("Last op", fmt.Sprintf("%s (%s ago)", u.Op, time.Since(u.ReceivedAt).Truncate(time.Millisecond)))

	header("ASSETS")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 4, ' ', 0)
	fmt.Fprintln(w, "TOKEN\tCASH\tLIABILITY\tSUPPLY\tCOVERAGE\t")
	fmt.Fprintln(w, "-----\t----\t---------\t------\t--------\t")
	for _, a := range p.Assets {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t\n",
			label(a), formatWad(a.Cash), formatWad(a.Liability), formatWad(a.Supply), coverage(a))
	}
	w.Flush()
}

func (c *console) quoteSwap(pool solvency.PoolView) {
	from, ok := c.promptAsset(pool, "[Quote Swap] From token: ")
	if !ok {
		return
	}
	to, ok := c.promptAsset(pool, "[Quote Swap] To token: ")
	if !ok {
		return
	}
	amount, ok := c.promptAmount("[Quote Swap] Amount: ", from.Decimals)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, queryTimeout)
	defer cancel()
	q, err := c.querier.QuoteSwap(ctx, pool.Address, from.Token.Hex(), to.Token.Hex(), amount)
	if err != nil {
		printQueryError(err)
		return
	}
	header("SWAP QUOTE")
	fmt.Printf("  %s %s -> %s%s %s%s\n", wad.FormatUnits(amount, from.Decimals), label(from),
		Green, wad.FormatUnits(q.ToAmount, to.Decimals), label(to), Reset)
	fmt.Printf("  %sHaircut: %s %s%s\n", Gray, wad.FormatUnits(q.Haircut, to.Decimals), label(to), Reset)
}

func (c *console) quoteWithdraw(pool solvency.PoolView) {
	initial, ok := c.promptAsset(pool, "[Quote Withdraw] LP of token: ")
	if !ok {
		return
	}
	fmt.Print(Bold + "[Quote Withdraw] Paid in token (empty for same): " + Reset)
	wanted := initial
	if input := c.readLine(); input != "" {
		a, err := findAsset(pool, input)
		if err != nil {
			fmt.Println(Red + "[ERROR] " + err.Error() + Reset)
			return
		}
		wanted = a
	}
	liquidity, ok := c.promptAmount("[Quote Withdraw] Liquidity: ", wad.Decimals)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, queryTimeout)
	defer cancel()
	var (
		q   solvency.WithdrawQuote
		err error
	)
	if wanted.Token == initial.Token {
		q, err = c.querier.QuoteWithdraw(ctx, pool.Address, initial.Token.Hex(), liquidity)
	} else {
		q, err = c.querier.QuoteWithdrawFromOtherAsset(ctx, pool.Address, initial.Token.Hex(), wanted.Token.Hex(), liquidity)
	}
	if err != nil {
		printQueryError(err)
		if wanted.Token != initial.Token {
			if maxLP, err := c.querier.QuoteMaxInitialLiquidityWithdrawable(ctx, pool.Address, initial.Token.Hex(), wanted.Token.Hex()); err == nil {
				fmt.Printf("%sAt most %s LP of %s is redeemable in %s.%s\n", Yellow, wad.Format(maxLP), label(initial), label(wanted), Reset)
			}
		}
		return
	}
	header("WITHDRAW QUOTE")
	fmt.Printf("  %s LP of %s -> %s%s %s%s\n", wad.Format(liquidity), label(initial),
		Green, wad.FormatUnits(q.Amount, wanted.Decimals), label(wanted), Reset)
	fmt.Printf("  %sFee: %s | Liability burned: %s%s\n", Gray,
		wad.FormatUnits(q.Fee, wanted.Decimals), wad.Format(q.LiabilityBurned), Reset)
}

func (c *console) findPoolsByToken() {
	fmt.Print("\n" + Bold + "[Find Pools] Enter Token Symbol or Address: " + Reset)
	input := c.readLine()
	if input == "" {
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, queryTimeout)
	defer cancel()
	pools, err := c.querier.PoolsForToken(ctx, input)
	if err != nil {
		printQueryError(err)
		return
	}
	if len(pools) == 0 {
		fmt.Println(Yellow + "[INFO] No pools hold this token." + Reset)
		return
	}

	header(fmt.Sprintf("POOLS FOR %s", input))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 4, ' ', 0)
	fmt.Fprintln(w, "POOL ADDRESS\tASSETS\tORACLE\t")
	fmt.Fprintln(w, "------------\t------\t------\t")
	for _, addr := range pools {
		view, err := c.querier.Pool(ctx, addr)
		if err != nil {
			fmt.Fprintf(w, "%s\t%s<error>%s\t\t\n", addr.Hex(), Red, Reset)
			continue
		}
		symbols := make([]string, 0, len(view.Assets))
		for _, a := range view.Assets {
			symbols = append(symbols, label(a))
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t\n", addr.Hex(), strings.Join(symbols, ","), view.OraclePriced)
	}
	w.Flush()
}

func (c *console) watchPool() {
	fmt.Println(Green + "Starting Live Watch... (Press 'Enter' to stop)" + Reset)
	time.Sleep(1 * time.Second)

	stopCh := make(chan struct{})
	go func() {
		c.reader.ReadString('\n')
		close(stopCh)
	}()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var last *client.Update
	for {
		select {
		case <-stopCh:
			return
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			u := c.state.Get()
			if u == nil || u == last {
				continue
			}
			last = u

			fmt.Print("\033[H\033[2J")
			fmt.Printf(Bold+"--- LIVE MONITOR (Last op: %s at %s) ---\n"+Reset, u.Op, u.SentAt.Format("15:04:05.000"))
			fmt.Println(Gray + "Press ENTER to return to menu." + Reset)
			printPool(u)
		}
	}
}

// --- HELPERS ---

func (c *console) readLine() string {
	input, _ := c.reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func (c *console) promptAsset(pool solvency.PoolView, prompt string) (solvency.AssetView, bool) {
	fmt.Print(Bold + prompt + Reset)
	input := c.readLine()
	if input == "" {
		return solvency.AssetView{}, false
	}
	a, err := findAsset(pool, input)
	if err != nil {
		fmt.Println(Red + "[ERROR] " + err.Error() + Reset)
		return solvency.AssetView{}, false
	}
	return a, true
}

func (c *console) promptAmount(prompt string, decimals uint8) (*uint256.Int, bool) {
	fmt.Print(Bold + prompt + Reset)
	input := c.readLine()
	if input == "" {
		return nil, false
	}
	amount, err := wad.ParseUnits(input, decimals)
	if err != nil {
		fmt.Printf(Red+"[ERROR] Invalid amount: %v%s\n", err, Reset)
		return nil, false
	}
	return amount, true
}

func findAsset(pool solvency.PoolView, ref string) (solvency.AssetView, error) {
	for _, a := range pool.Assets {
		if strings.EqualFold(a.Symbol, ref) || (common.IsHexAddress(ref) && common.HexToAddress(ref) == a.Token) {
			return a, nil
		}
	}
	return solvency.AssetView{}, fmt.Errorf("pool has no asset %q", ref)
}

func label(a solvency.AssetView) string {
	if a.Symbol != "" {
		return a.Symbol
	}
	return a.Token.Hex()
}

func formatWad(b *hexutil.Big) string {
	if b == nil {
		return "-"
	}
	x, overflow := uint256.FromBig(b.ToInt())
	if overflow {
		return "overflow"
	}
	return wad.Format(x)
}

// coverage colours the ratio red below one.
func coverage(a solvency.AssetView) string {
	if a.Coverage == nil {
		return Gray + "n/a" + Reset
	}
	s := formatWad(a.Coverage)
	if a.Coverage.ToInt().Cmp(wad.One.ToBig()) < 0 {
		return Red + s + Reset
	}
	return Green + s + Reset
}

func printQueryError(err error) {
	if kind := client.ErrorKind(err); kind != "" {
		fmt.Printf(Red+"[%s] %v%s\n", strings.ToUpper(kind), err, Reset)
		return
	}
	fmt.Printf(Red+"[ERROR] %v%s\n", err, Reset)
}

func exitConsole() {
	fmt.Println(Yellow + "Exiting..." + Reset)
	os.Exit(0)
}

func loadConfig() (*config.ConsoleConfig, error) {
	configPath := flag.String("config", "console.yaml", "Path to the configuration file.")
	flag.Parse()
	log.Printf("Loading configuration from: %s", *configPath)
	return config.LoadConfig(*configPath)
}

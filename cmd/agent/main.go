// Command agent is a terminal client for an incognito mission. It dials
// the relay, creates or joins a mission, and drives the local
// coordinator from stdin commands while the run loop arbitrates in the
// background.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/incognito-party/incognito/internal/challenge"
	"github.com/incognito-party/incognito/internal/mission"
	"github.com/incognito-party/incognito/internal/models"
	"github.com/incognito-party/incognito/internal/relay"
	"github.com/incognito-party/incognito/internal/session"
)

func main() {
	relayURL := flag.String("relay", "ws://localhost:8080/sync", "relay websocket URL")
	codename := flag.String("codename", "", "agent codename (required)")
	avatar := flag.String("avatar", "ghost", "avatar name")
	identityPath := flag.String("identity", "identity.json", "local identity file")
	flag.Parse()

	if *codename == "" {
		log.Fatal("a codename is required; pass -codename")
	}

	st, err := relay.Dial(*relayURL)
	if err != nil {
		log.Fatal("Failed to reach relay:", err)
	}
	defer st.Close()

	mgr, err := session.NewManager(st, *identityPath)
	if err != nil {
		log.Fatal("Failed to load identity:", err)
	}

	pool, err := challenge.LoadPool("data/challenges.json")
	if err != nil {
		log.Fatal("Failed to load data:", err)
	}

	a := &app{
		st:      st,
		mgr:     mgr,
		pool:    pool,
		profile: mission.NewProfile(*codename, *avatar),
	}
	if ident := mgr.Identity(); ident != nil {
		fmt.Printf("Resuming mission %s as %s\n", ident.Code, ident.Role)
		if err := a.attach(ident.Code, ident.Role); err != nil {
			log.Fatal("Failed to resume:", err)
		}
	}

	fmt.Println("Type 'help' for commands.")
	sc := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !sc.Scan() {
			return
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "quit" {
			return
		}
		if err := a.dispatch(fields[0], fields[1:]); err != nil {
			fmt.Println("error:", err)
		}
	}
}

type app struct {
	st      *relay.Client
	mgr     *session.Manager
	pool    []models.Challenge
	profile mission.Profile

	coord  *mission.Coordinator
	cancel context.CancelFunc
}

// attach binds a coordinator to code, registers presence and starts the
// background run loop.
func (a *app) attach(code string, role models.Role) error {
	c := mission.New(a.st, a.pool, code, a.profile, role, mission.Options{})
	if err := c.RegisterPresence(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := c.Run(ctx); err != nil && ctx.Err() == nil {
			log.Print("run loop: ", err)
		}
	}()
	a.coord, a.cancel = c, cancel
	return nil
}

func (a *app) detach() {
	if a.cancel != nil {
		a.cancel()
	}
	a.coord, a.cancel = nil, nil
}

func (a *app) dispatch(cmd string, args []string) error {
	switch cmd {
	case "help":
		fmt.Print(usage)
		return nil
	case "create":
		return a.create(args)
	case "join":
		if len(args) != 1 {
			return fmt.Errorf("usage: join CODE")
		}
		return a.join(args[0])
	case "leave":
		err := a.mgr.ClearSession(a.profile.ID)
		a.detach()
		return err
	}

	c := a.coord
	if c == nil {
		return fmt.Errorf("not in a mission; 'create' or 'join' first")
	}
	switch cmd {
	case "start":
		return c.StartMission()
	case "abort":
		err := c.AbortMission()
		if err == nil {
			a.detach()
			return a.mgr.ClearSession("")
		}
		return err
	case "done":
		return c.CompleteChallenge(a.profile.ID)
	case "bluff":
		return c.TriggerBluff(a.profile.ID)
	case "impossible":
		return c.ReportImpossibleChallenge(a.profile.ID)
	case "unmask":
		if len(args) != 1 {
			return fmt.Errorf("usage: unmask CODENAME")
		}
		target, err := a.findByName(args[0])
		if err != nil {
			return err
		}
		return c.UnmaskAgent(target, a.profile.ID)
	case "confess":
		return c.RespondToUnmask(a.profile.ID, true)
	case "deny":
		return c.RespondToUnmask(a.profile.ID, false)
	case "vote":
		if len(args) != 1 {
			return fmt.Errorf("usage: vote feasible|impossible|yes|no")
		}
		return a.vote(args[0])
	case "status":
		a.printStatus()
		return nil
	case "events":
		a.printEvents()
		return nil
	}
	return fmt.Errorf("unknown command %q; try 'help'", cmd)
}

func (a *app) create(args []string) error {
	cfg := models.MissionConfig{ThreatLevel: "AGENT", Duration: "45_MIN", Protocol: "SOCIAL"}
	if len(args) == 3 {
		cfg = models.MissionConfig{ThreatLevel: args[0], Duration: args[1], Protocol: args[2]}
	} else if len(args) != 0 {
		return fmt.Errorf("usage: create [THREAT DURATION PROTOCOL]")
	}
	code := challenge.GenerateMissionCode()
	if err := a.mgr.CreateSession(code, cfg); err != nil {
		return err
	}
	fmt.Println("Mission created:", code)
	return a.attach(code, models.RoleHost)
}

func (a *app) join(code string) error {
	ok, err := a.mgr.JoinSession(code)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no mission at %s", strings.ToUpper(code))
	}
	ident := a.mgr.Identity()
	fmt.Println("Joined", ident.Code)
	return a.attach(ident.Code, ident.Role)
}

// vote casts a ballot on whichever incident is currently active.
func (a *app) vote(word string) error {
	m, ok := a.coord.Mission()
	if !ok {
		return fmt.Errorf("mission state not loaded yet")
	}
	targetID, target := m.IncidentAgent()
	if target == nil {
		return fmt.Errorf("nothing to vote on")
	}
	v := models.Vote(strings.ToUpper(word))
	switch v {
	case models.VoteFeasible, models.VoteImpossible, models.VoteYes, models.VoteNo:
	default:
		return fmt.Errorf("vote must be feasible, impossible, yes or no")
	}
	return a.coord.VoteIncident(targetID, a.profile.ID, v)
}

func (a *app) findByName(name string) (string, error) {
	m, ok := a.coord.Mission()
	if !ok {
		return "", fmt.Errorf("mission state not loaded yet")
	}
	for id, ag := range m.Agents {
		if ag != nil && strings.EqualFold(ag.Name, name) {
			return id, nil
		}
	}
	return "", fmt.Errorf("no agent named %s", name)
}

func (a *app) printStatus() {
	m, ok := a.coord.Mission()
	if !ok {
		fmt.Println("waiting for mission state")
		return
	}
	fmt.Printf("Mission %s  status=%s  threat=%s  protocol=%s\n",
		a.mgr.Identity().Code, m.Status, m.ThreatLevel, m.Protocol)
	if left, timed := a.coord.TimeRemaining(); timed {
		fmt.Printf("Time remaining: %s\n", left.Round(time.Second))
	}
	for id, ag := range m.Agents {
		if ag == nil {
			continue
		}
		line := fmt.Sprintf("  %-12s %4d pts", ag.Name, ag.Score)
		if id == a.profile.ID && ag.Challenge != nil {
			line += "  mission: " + ag.Challenge.Text
		}
		if ag.Incident != nil {
			line += "  [" + string(ag.Incident.Type) + "]"
		}
		fmt.Println(line)
	}
}

func (a *app) printEvents() {
	for _, ev := range a.coord.Events() {
		ts := time.UnixMilli(ev.Timestamp).Format("15:04:05")
		if ev.TargetName != "" {
			fmt.Printf("%s  %-13s %s -> %s\n", ts, ev.Type, ev.AgentName, ev.TargetName)
		} else {
			fmt.Printf("%s  %-13s %s\n", ts, ev.Type, ev.AgentName)
		}
	}
}

const usage = `commands:
  create [THREAT DURATION PROTOCOL]   create a mission and host it
  join CODE                           join an existing mission
  start                               deal challenges and go (host)
  abort                               destroy the mission (host)
  done | bluff                        claim your challenge, or pretend to
  impossible                          report your challenge as infeasible
  unmask CODENAME                     accuse another agent
  confess | deny                      answer an accusation against you
  vote feasible|impossible|yes|no     vote on the active incident
  status | events                     show mission state / event log
  leave | quit
`

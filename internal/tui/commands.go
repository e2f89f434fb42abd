package tui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tatianab/ai-game-assistant/internal/models"
)

type commandKind int

const (
	cmdChat commandKind = iota
	cmdStart
	cmdStop
	cmdGoal
	cmdObjAdd
	cmdObjDone
	cmdObjRemove
	cmdObjMove
	cmdROM
	cmdSave
	cmdLoad
	cmdProvider
	cmdModel
	cmdInterval
	cmdBackend
	cmdSessions
	cmdQuit
)

type command struct {
	kind   commandKind
	text   string
	id     int
	before int
}

var errUsage = errors.New("usage")

const usage = "/start, /stop, /goal <text>, /obj add|done|rm|move, /rom <path>, /save, /load, /provider <name>, /model <id>, /interval <ms>, /backend <url>, /sessions, /quit"

// parseCommand reads one line of input. Anything that is not a slash
// command is a chat message.
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{kind: cmdChat, text: line}, nil
	}

	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "/start":
		return command{kind: cmdStart}, nil
	case "/stop":
		return command{kind: cmdStop}, nil
	case "/save":
		return command{kind: cmdSave}, nil
	case "/load":
		return command{kind: cmdLoad}, nil
	case "/sessions":
		return command{kind: cmdSessions}, nil
	case "/quit", "/exit":
		return command{kind: cmdQuit}, nil
	case "/goal":
		return command{kind: cmdGoal, text: rest}, nil
	case "/rom":
		return needText(cmdROM, rest, "/rom <path>")
	case "/model":
		return needText(cmdModel, rest, "/model <id>")
	case "/backend":
		return needText(cmdBackend, rest, "/backend <url>")
	case "/provider":
		switch p := models.AIProvider(strings.ToLower(rest)); p {
		case models.ProviderGoogle, models.ProviderOpenRouter, models.ProviderLMStudio:
			return command{kind: cmdProvider, text: string(p)}, nil
		}
		return command{}, fmt.Errorf("%w: /provider google|openrouter|lmstudio", errUsage)
	case "/interval":
		ms, err := strconv.Atoi(rest)
		if err != nil || ms <= 0 {
			return command{}, fmt.Errorf("%w: /interval <milliseconds>", errUsage)
		}
		return command{kind: cmdInterval, id: ms}, nil
	case "/obj":
		return parseObjective(rest)
	}
	return command{}, fmt.Errorf("unknown command %s; try %s", name, usage)
}

func needText(kind commandKind, text, help string) (command, error) {
	if text == "" {
		return command{}, fmt.Errorf("%w: %s", errUsage, help)
	}
	return command{kind: kind, text: text}, nil
}

func parseObjective(args string) (command, error) {
	sub, rest, _ := strings.Cut(args, " ")
	rest = strings.TrimSpace(rest)
	switch sub {
	case "add":
		return needText(cmdObjAdd, rest, "/obj add <text>")
	case "done", "rm":
		id, err := strconv.Atoi(rest)
		if err != nil {
			return command{}, fmt.Errorf("%w: /obj %s <id>", errUsage, sub)
		}
		kind := cmdObjDone
		if sub == "rm" {
			kind = cmdObjRemove
		}
		return command{kind: kind, id: id}, nil
	case "move":
		fields := strings.Fields(rest)
		if len(fields) < 1 || len(fields) > 2 {
			return command{}, fmt.Errorf("%w: /obj move <id> [beforeID]", errUsage)
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil {
			return command{}, fmt.Errorf("%w: /obj move <id> [beforeID]", errUsage)
		}
		c := command{kind: cmdObjMove, id: id}
		if len(fields) == 2 {
			if c.before, err = strconv.Atoi(fields[1]); err != nil {
				return command{}, fmt.Errorf("%w: /obj move <id> [beforeID]", errUsage)
			}
		}
		return c, nil
	}
	return command{}, fmt.Errorf("%w: /obj add|done|rm|move", errUsage)
}

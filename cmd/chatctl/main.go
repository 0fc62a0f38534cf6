// Command chatctl seeds and inspects the relay's badger store: users, room
// memberships, tokens and message history. Stop the server before writing.
package main

import (
	"chat-relay/auth"
	"chat-relay/domain/chat"
	"chat-relay/repositories"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
)

type Config struct {
	BadgerFilepath    string        `env:"BADGER_FILEPATH"`
	JWTSecret         string        `env:"JWT_SECRET"`
	JWTIssuer         string        `env:"JWT_ISSUER"`
	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`
	LimitMessages     *int          `env:"LIMIT_MESSAGES"`
}

const usage = `usage: chatctl [-db path] <command>

commands:
  user add <username>
  member add <room> <user> [member|admin]
  member remove <room> <user>
  members <room>
  token <user>
  history <room> [cursor]
`

func main() {
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		fmt.Fprintln(os.Stderr, color.Red.Sprintf("config error: %v", err))
		os.Exit(1)
	}
	if err := run(context.Background(), config, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, color.Red.Sprint(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, config Config, args []string, out io.Writer) error {
	flags := flag.NewFlagSet("chatctl", flag.ContinueOnError)
	flags.SetOutput(out)
	dbPath := flags.String("db", config.BadgerFilepath, "Path to badger DB")
	if err := flags.Parse(args); err != nil {
		return err
	}
	args = flags.Args()
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return fmt.Errorf("missing command")
	}
	if *dbPath == "" {
		return fmt.Errorf("no database: set BADGER_FILEPATH or pass -db")
	}

	// token only needs the secret
	if args[0] == "token" {
		return issueToken(config, args[1:], out)
	}

	db, err := badger.Open(badger.DefaultOptions(*dbPath).WithLogger(nil))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer db.Close()

	users, err := repositories.NewUserRepository(db)
	if err != nil {
		return err
	}
	defer users.Close()
	members := repositories.NewMembershipRepository(db)

	switch {
	case len(args) == 3 && args[0] == "user" && args[1] == "add":
		user, err := users.CreateUser(ctx, args[2])
		if err != nil {
			return err
		}
		fmt.Fprintln(out, color.Green.Sprintf("created user %q with id %d", user.Username, user.ID))
		return nil

	case len(args) >= 4 && args[0] == "member" && args[1] == "add":
		room, user, err := roomAndUser(args[2], args[3])
		if err != nil {
			return err
		}
		role := chat.RoleMember
		if len(args) > 4 {
			role = chat.Role(args[4])
		}
		if role != chat.RoleMember && role != chat.RoleAdmin {
			return fmt.Errorf("unknown role %q", role)
		}
		if _, err := users.GetUser(ctx, user); err != nil {
			return err
		}
		if err := members.AddMember(ctx, room, user, role); err != nil {
			return err
		}
		fmt.Fprintln(out, color.Green.Sprintf("user %d is now %s of room %d", user, role, room))
		return nil

	case len(args) == 4 && args[0] == "member" && args[1] == "remove":
		room, user, err := roomAndUser(args[2], args[3])
		if err != nil {
			return err
		}
		if err := members.RemoveMember(ctx, room, user); err != nil {
			return err
		}
		fmt.Fprintln(out, color.Yellow.Sprintf("user %d removed from room %d", user, room))
		return nil

	case len(args) == 2 && args[0] == "members":
		room, ok := chat.ParseRoomID(args[1])
		if !ok {
			return fmt.Errorf("invalid room id %q", args[1])
		}
		return listMembers(ctx, members, users, room, out)

	case len(args) >= 2 && args[0] == "history":
		room, ok := chat.ParseRoomID(args[1])
		if !ok {
			return fmt.Errorf("invalid room id %q", args[1])
		}
		var cursor *string
		if len(args) > 2 {
			cursor = &args[2]
		}
		messages, err := repositories.NewMessageRepository(db, slog.New(slog.NewTextHandler(io.Discard, nil)), config.LimitMessages)
		if err != nil {
			return err
		}
		defer messages.Close()
		return printHistory(ctx, messages, users, room, cursor, out)

	default:
		fmt.Fprint(out, usage)
		return fmt.Errorf("unknown command %v", args)
	}
}

func issueToken(config Config, args []string, out io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: chatctl token <user>")
	}
	user, ok := chat.ParseUserID(args[0])
	if !ok {
		return fmt.Errorf("invalid user id %q", args[0])
	}
	if config.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required to issue tokens")
	}
	token, err := auth.GenerateToken(config.JWTSecret, config.JWTIssuer, user, config.AuthTokenDuration)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func roomAndUser(rawRoom, rawUser string) (chat.RoomID, chat.UserID, error) {
	room, ok := chat.ParseRoomID(rawRoom)
	if !ok {
		return 0, 0, fmt.Errorf("invalid room id %q", rawRoom)
	}
	user, ok := chat.ParseUserID(rawUser)
	if !ok {
		return 0, 0, fmt.Errorf("invalid user id %q", rawUser)
	}
	return room, user, nil
}

func listMembers(
	ctx context.Context,
	members repositories.IMembershipRepository,
	users repositories.IUserRepository,
	room chat.RoomID,
	out io.Writer,
) error {
	memberships, err := members.ListMembers(ctx, room)
	if err != nil {
		return err
	}
	table := newTable(out, []string{"User", "Username", "Role", "Joined"})
	for _, m := range memberships {
		table.Append([]string{
			strconv.FormatInt(int64(m.User), 10),
			username(ctx, users, m.User),
			string(m.Role),
			m.JoinedAt.Format(time.RFC3339),
		})
	}
	table.Render()
	fmt.Fprintln(out, color.Cyan.Sprintf("%d member(s) in room %d", len(memberships), room))
	return nil
}

func printHistory(
	ctx context.Context,
	messages repositories.IMessageRepository,
	users repositories.IUserRepository,
	room chat.RoomID,
	cursor *string,
	out io.Writer,
) error {
	page, next, err := messages.GetMessages(ctx, room, cursor)
	if err != nil {
		return err
	}
	table := newTable(out, []string{"ID", "At", "Sender", "Content"})
	for _, m := range page {
		table.Append([]string{
			strconv.FormatInt(m.ID, 10),
			m.CreatedAt.Format("2006-01-02 15:04:05"),
			username(ctx, users, m.SenderID),
			m.Content,
		})
	}
	table.Render()
	if next != nil {
		fmt.Fprintln(out, color.Cyan.Sprintf("next cursor: %s", *next))
	}
	return nil
}

func username(ctx context.Context, users repositories.IUserRepository, id chat.UserID) string {
	user, err := users.GetUser(ctx, id)
	if err != nil {
		return "?"
	}
	return user.Username
}

func newTable(out io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(out)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

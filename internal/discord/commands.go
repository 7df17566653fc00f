package discord

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/Lolitsgin/minecraft-discord-bridge/internal/model"
	"github.com/Lolitsgin/minecraft-discord-bridge/internal/repository"

	"github.com/google/uuid"
)

// SessionService is the slice of the session manager the dispatcher needs.
type SessionService interface {
	CreateSession(ctx context.Context, discordUserID string) (*model.LinkSession, error)
	Binding(ctx context.Context, discordUserID string) (*model.IdentityBinding, error)
	ListActive(ctx context.Context) ([]model.LinkSession, error)
	Unlink(ctx context.Context, ref string) error
}

// RelayControl is the slice of the chat relay the dispatcher needs.
type RelayControl interface {
	Pause()
	Resume()
	Paused() bool
	QueueLen() int
}

// ChannelRegistry is the bridge-channel store.
type ChannelRegistry interface {
	Add(ctx context.Context, ch *repository.BridgeChannel) error
	Remove(ctx context.Context, channelID string) (string, error)
	Get(ctx context.Context, channelID string) (*repository.BridgeChannel, error)
	List(ctx context.Context) ([]repository.BridgeChannel, error)
}

// WebhookTargets mutates the live webhook target set of the publisher.
type WebhookTargets interface {
	AddWebhook(url string)
	RemoveWebhook(url string)
	SetWebhooks(urls []string)
}

// HookManager creates and deletes the Discord-side "_minecraft" webhooks.
// Implemented by the Bot over discordgo; faked in tests.
type HookManager interface {
	EnsureWebhook(channelID string) (url string, err error)
	DeleteWebhook(channelID string) error
}

// PlayerLister exposes the Minecraft tab list.
type PlayerLister interface {
	Players() []string
	Online() bool
}

// UsernameResolver turns a Minecraft username into its UUID so admins can
// unlink by name. Implemented by service.MojangResolver.
type UsernameResolver interface {
	UUIDForUsername(ctx context.Context, name string) (string, error)
}

// Reply is the dispatcher's answer to a command. Private replies go to the
// issuer's DM channel.
type Reply struct {
	Text    string
	Private bool
}

// Dispatcher parses and executes mc! commands. Admin verbs are gated by the
// allow-list; everything mutating shared state goes through the same
// session-manager and relay methods as normal operation.
type Dispatcher struct {
	sessions SessionService
	relay    RelayControl
	channels ChannelRegistry
	targets  WebhookTargets
	hooks    HookManager
	mc       PlayerLister
	names    UsernameResolver

	admins map[string]struct{}
	domain string
	port   int
}

// NewDispatcher builds a dispatcher. The HookManager arrives later via
// SetHookManager because the Bot implementing it needs the dispatcher first.
func NewDispatcher(
	sessions SessionService,
	relay RelayControl,
	channels ChannelRegistry,
	targets WebhookTargets,
	mc PlayerLister,
	names UsernameResolver,
	adminIDs []string,
	wildcardDomain string,
	port int,
) *Dispatcher {
	admins := make(map[string]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[strings.TrimSpace(id)] = struct{}{}
	}
	return &Dispatcher{
		sessions: sessions,
		relay:    relay,
		channels: channels,
		targets:  targets,
		mc:       mc,
		names:    names,
		admins:   admins,
		domain:   wildcardDomain,
		port:     port,
	}
}

// SetHookManager wires the Discord-side webhook manager.
func (d *Dispatcher) SetHookManager(h HookManager) { d.hooks = h }

const commandPrefix = "mc!"

var adminVerbs = map[string]struct{}{
	"chathere":     {},
	"stopchathere": {},
	"pause":        {},
	"resume":       {},
	"unlink":       {},
	"sessions":     {},
}

// ParseCommand turns a raw message into an AdminCommand, or nil if the
// message is not a command at all.
func ParseCommand(issuerID, channelID, content string) *model.AdminCommand {
	if !strings.HasPrefix(content, commandPrefix) {
		return nil
	}
	fields := strings.Fields(strings.TrimPrefix(content, commandPrefix))
	if len(fields) == 0 {
		return &model.AdminCommand{IssuerID: issuerID, ChannelID: channelID, Verb: "help"}
	}
	return &model.AdminCommand{
		IssuerID:  issuerID,
		ChannelID: channelID,
		Verb:      strings.ToLower(fields[0]),
		Args:      fields[1:],
	}
}

func (d *Dispatcher) isAdmin(id string) bool {
	_, ok := d.admins[id]
	return ok
}

// Dispatch executes one command and returns the reply. Unauthorized admin
// verbs are logged and denied with zero side effects.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd model.AdminCommand) Reply {
	if _, admin := adminVerbs[cmd.Verb]; admin && !d.isAdmin(cmd.IssuerID) {
		log.Printf("[commands] denied %q from non-admin %s", cmd.Verb, cmd.IssuerID)
		return Reply{Text: "Sorry, you do not have permission to execute that command!", Private: true}
	}

	switch cmd.Verb {
	case "help":
		return Reply{Text: d.helpText(), Private: true}
	case "register":
		return d.register(ctx, cmd.IssuerID)
	case "tab":
		return d.tab()
	case "chathere":
		return d.chatHere(ctx, cmd)
	case "stopchathere":
		return d.stopChatHere(ctx, cmd)
	case "pause":
		d.relay.Pause()
		return Reply{Text: "Relay paused. Messages will queue until `mc!resume`."}
	case "resume":
		d.relay.Resume()
		return Reply{Text: "Relay resumed."}
	case "unlink":
		return d.unlink(ctx, cmd.Args)
	case "sessions":
		return d.listSessions(ctx)
	default:
		return Reply{Text: "Unknown command, type `mc!help` for a list of commands.", Private: true}
	}
}

func (d *Dispatcher) helpText() string {
	return "Admin commands:\n" +
		"`mc!chathere`: Starts relaying server chat in this channel\n" +
		"`mc!stopchathere`: Stops relaying server chat in this channel\n" +
		"`mc!pause` / `mc!resume`: Pauses/resumes the chat relay\n" +
		"`mc!unlink <discord-id|minecraft-uuid|minecraft-username>`: Removes an account link\n" +
		"`mc!sessions`: Lists in-progress link sessions\n" +
		"User commands:\n" +
		"`mc!tab`: Shows the server's player list\n" +
		"`mc!register`: Starts the Minecraft account linking process\n" +
		"To chat on the Minecraft server, link your account with `mc!register`."
}

func (d *Dispatcher) register(ctx context.Context, issuerID string) Reply {
	if binding, err := d.sessions.Binding(ctx, issuerID); err == nil {
		return Reply{
			Text:    fmt.Sprintf("Your Discord account is already linked to Minecraft account `%s`.", binding.MinecraftUUID),
			Private: true,
		}
	}

	s, err := d.sessions.CreateSession(ctx, issuerID)
	if errors.Is(err, model.ErrConflict) {
		return Reply{
			Text:    "You already have a link attempt in progress. Complete it or wait for it to expire.",
			Private: true,
		}
	}
	if err != nil {
		log.Printf("[commands] create session for %s failed: %v", issuerID, err)
		return Reply{Text: "Something went wrong creating your link session, please try again.", Private: true}
	}

	url := fmt.Sprintf("https://%s.%s", s.Token, d.domain)
	if d.port != 443 {
		url = fmt.Sprintf("%s:%d", url, d.port)
	}
	ttl := time.Until(s.ExpiresAt).Round(time.Second)
	return Reply{
		Text: fmt.Sprintf(
			"Visit %s from the device you play Minecraft on to link your account. The link expires in %s.",
			url, ttl),
		Private: true,
	}
}

func (d *Dispatcher) tab() Reply {
	if !d.mc.Online() {
		return Reply{Text: "The Minecraft server is currently unreachable.", Private: true}
	}
	players := d.mc.Players()
	sort.Strings(players)
	if len(players) == 0 {
		return Reply{Text: "Nobody is online right now.", Private: true}
	}
	return Reply{
		Text:    fmt.Sprintf("Players online (%d): %s", len(players), strings.Join(players, ", ")),
		Private: true,
	}
}

func (d *Dispatcher) chatHere(ctx context.Context, cmd model.AdminCommand) Reply {
	if cmd.ChannelID == "" {
		return Reply{Text: "Sorry, this command is only available in public channels.", Private: true}
	}
	if _, err := d.channels.Get(ctx, cmd.ChannelID); err == nil {
		return Reply{Text: "The bridge is already chatting in this channel! To stop this, run `mc!stopchathere`."}
	}

	url, err := d.hooks.EnsureWebhook(cmd.ChannelID)
	if err != nil {
		log.Printf("[commands] webhook creation in %s failed: %v", cmd.ChannelID, err)
		return Reply{Text: "Could not create a webhook in this channel. Does the bot have the Manage Webhooks permission?"}
	}
	err = d.channels.Add(ctx, &repository.BridgeChannel{
		ChannelID:  cmd.ChannelID,
		WebhookURL: url,
		AddedBy:    cmd.IssuerID,
		AddedAt:    time.Now().UTC(),
	})
	if err != nil {
		log.Printf("[commands] registering channel %s failed: %v", cmd.ChannelID, err)
		return Reply{Text: "Could not register this channel, please try again."}
	}
	d.targets.AddWebhook(url)
	return Reply{Text: "The bridge will now start chatting here! To stop this, run `mc!stopchathere`."}
}

func (d *Dispatcher) stopChatHere(ctx context.Context, cmd model.AdminCommand) Reply {
	if cmd.ChannelID == "" {
		return Reply{Text: "Sorry, this command is only available in public channels.", Private: true}
	}
	url, err := d.channels.Remove(ctx, cmd.ChannelID)
	if errors.Is(err, model.ErrNotFound) {
		return Reply{Text: "The bridge was not chatting here!"}
	}
	if err != nil {
		log.Printf("[commands] unregistering channel %s failed: %v", cmd.ChannelID, err)
		return Reply{Text: "Could not unregister this channel, please try again."}
	}
	d.targets.RemoveWebhook(url)
	if err := d.hooks.DeleteWebhook(cmd.ChannelID); err != nil {
		log.Printf("[commands] deleting webhook in %s failed: %v", cmd.ChannelID, err)
	}
	return Reply{Text: "The bridge will no longer chat here."}
}

func (d *Dispatcher) unlink(ctx context.Context, args []string) Reply {
	if len(args) != 1 {
		return Reply{Text: "Usage: `mc!unlink <discord-id|minecraft-uuid|minecraft-username>`"}
	}
	ref := args[0]
	if looksLikeUsername(ref) {
		id, err := d.names.UUIDForUsername(ctx, ref)
		if err != nil {
			return Reply{Text: fmt.Sprintf("Could not resolve Minecraft username `%s`.", ref)}
		}
		ref = id
	}
	err := d.sessions.Unlink(ctx, ref)
	if errors.Is(err, model.ErrNotFound) {
		return Reply{Text: fmt.Sprintf("No account link found for `%s`.", args[0])}
	}
	if err != nil {
		log.Printf("[commands] unlink %s failed: %v", args[0], err)
		return Reply{Text: "Unlink failed, please try again."}
	}
	return Reply{Text: fmt.Sprintf("Unlinked `%s`.", args[0])}
}

// looksLikeUsername distinguishes Minecraft usernames from the other unlink
// references: Discord snowflakes are all digits, UUIDs parse as UUIDs.
func looksLikeUsername(ref string) bool {
	if _, err := uuid.Parse(ref); err == nil {
		return false
	}
	for _, r := range ref {
		if r < '0' || r > '9' {
			return true
		}
	}
	return false
}

func (d *Dispatcher) listSessions(ctx context.Context) Reply {
	sessions, err := d.sessions.ListActive(ctx)
	if err != nil {
		log.Printf("[commands] list sessions failed: %v", err)
		return Reply{Text: "Could not list sessions, please try again."}
	}
	if len(sessions) == 0 {
		return Reply{Text: "No link sessions in progress."}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d link session(s) in progress:\n", len(sessions))
	for _, s := range sessions {
		// Show only a token prefix; full tokens are capabilities.
		fmt.Fprintf(&b, "`%s…` user <@%s> state %s expires <t:%d:R>\n",
			s.Token[:6], s.DiscordUserID, s.State, s.ExpiresAt.Unix())
	}
	return Reply{Text: b.String()}
}

// Package chat is the Twitch chat frontend of the bot. It listens for commands
// in the configured channels and runs account link flows on behalf of the
// chatters who ask for one:
//
//   - !link whispers the chatter an osu! authorization URL, waits for the
//     worker to report the result and announces it in the channel.
//   - !ping answers Pong!.
//
// Each link flow runs in its own goroutine and ends with the bot's context.
// The IRC client needs a bot username and an OAuth token with chat:read,
// chat:edit and user:manage:whispers scopes (TWITCH_BOT_USERNAME,
// TWITCH_OAUTH_TOKEN). Whispers go through the Helix API under
// TWITCH_CLIENT_ID; a chatter who cannot be whispered is told so in the
// channel and no flow is left waiting.
package chat

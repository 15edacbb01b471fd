package protocol

// Channel names a message route between the UI client and the host.
type Channel string

// Direction is the fixed direction of a channel.
type Direction int

const (
	// Invoke channels carry client→host requests answered by one Result.
	Invoke Direction = iota
	// Push channels carry host→client events.
	Push
)

func (d Direction) String() string {
	if d == Push {
		return "push"
	}
	return "invoke"
}

// Client → host channels.
const (
	ChannelSpawn          Channel = "spawn"
	ChannelSend           Channel = "send"
	ChannelPause          Channel = "pause"
	ChannelResume         Channel = "resume"
	ChannelStop           Channel = "stop"
	ChannelStatusGet      Channel = "status:get"
	ChannelSessionHistory Channel = "session:history"
	ChannelSessionsList   Channel = "sessions:list"
	ChannelQuery          Channel = "query"
	ChannelQueryCancel    Channel = "query:cancel"
	ChannelAuthStatus     Channel = "auth:status"
	ChannelModels         Channel = "models"
	ChannelSkillsList     Channel = "skills:list"
	ChannelFileWatch      Channel = "file:watch"
	ChannelFileUnwatch    Channel = "file:unwatch"
	ChannelFileRead       Channel = "file:read"
	ChannelFileWrite      Channel = "file:write"
	ChannelFileList       Channel = "file:list"
	ChannelFileMkdir      Channel = "file:mkdir"
	ChannelFileExists     Channel = "file:exists"
	ChannelSettingsRead   Channel = "settings:read"
	ChannelSettingsWrite  Channel = "settings:write"
	ChannelPlanRead       Channel = "plan:read"
	ChannelHistorySession Channel = "history:sessions"
	ChannelHistoryQueries Channel = "history:queries"
)

// Host → client channels.
const (
	ChannelOutput      Channel = "output"
	ChannelError       Channel = "error"
	ChannelExit        Channel = "exit"
	ChannelStatus      Channel = "status"
	ChannelQueryChunk  Channel = "query:chunk"
	ChannelFileChanged Channel = "file:changed"
	ChannelWatchError  Channel = "watch:error"
)

// Spec describes a statically known channel.
type Spec struct {
	Direction Direction
	// Concurrent invokes may run for a long time and are dispatched off
	// the connection's read loop so later requests are not held behind
	// them.
	Concurrent bool
}

var channels = map[Channel]Spec{
	ChannelSpawn:          {Direction: Invoke},
	ChannelSend:           {Direction: Invoke},
	ChannelPause:          {Direction: Invoke},
	ChannelResume:         {Direction: Invoke},
	ChannelStop:           {Direction: Invoke},
	ChannelStatusGet:      {Direction: Invoke},
	ChannelSessionHistory: {Direction: Invoke},
	ChannelSessionsList:   {Direction: Invoke},
	ChannelQuery:          {Direction: Invoke, Concurrent: true},
	ChannelQueryCancel:    {Direction: Invoke},
	ChannelAuthStatus:     {Direction: Invoke, Concurrent: true},
	ChannelModels:         {Direction: Invoke},
	ChannelSkillsList:     {Direction: Invoke},
	ChannelFileWatch:      {Direction: Invoke},
	ChannelFileUnwatch:    {Direction: Invoke},
	ChannelFileRead:       {Direction: Invoke},
	ChannelFileWrite:      {Direction: Invoke},
	ChannelFileList:       {Direction: Invoke},
	ChannelFileMkdir:      {Direction: Invoke},
	ChannelFileExists:     {Direction: Invoke},
	ChannelSettingsRead:   {Direction: Invoke},
	ChannelSettingsWrite:  {Direction: Invoke},
	ChannelPlanRead:       {Direction: Invoke},
	ChannelHistorySession: {Direction: Invoke},
	ChannelHistoryQueries: {Direction: Invoke},

	ChannelOutput:      {Direction: Push},
	ChannelError:       {Direction: Push},
	ChannelExit:        {Direction: Push},
	ChannelStatus:      {Direction: Push},
	ChannelQueryChunk:  {Direction: Push},
	ChannelFileChanged: {Direction: Push},
	ChannelWatchError:  {Direction: Push},
}

// Lookup returns the spec of a known channel.
func Lookup(ch Channel) (Spec, bool) {
	spec, ok := channels[ch]
	return spec, ok
}

// Channels returns every known channel with the given direction.
func Channels(dir Direction) []Channel {
	result := make([]Channel, 0, len(channels))
	for ch, spec := range channels {
		if spec.Direction == dir {
			result = append(result, ch)
		}
	}
	return result
}

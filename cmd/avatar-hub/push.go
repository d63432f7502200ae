package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-avatar/internal/config"
	"github.com/teslashibe/go-avatar/internal/httpc"
	"github.com/teslashibe/go-avatar/pkg/protocol"
)

var pushCmd = &cobra.Command{
	Use:   "push <avatar-id|broadcast> <command> [args]",
	Short: "Send a command to a connected avatar",
	Long: `push sends one command through a running hub.

Commands:
  emotion <name> [intensity]    blend to an emotion preset
  animation <name>              trigger a rig animation
  arousal <level>               set the arousal level
  look_at <x> <y> <z>           set the gaze target
  morph <json>                  blend to explicit weights, e.g. '{"jawOpen":0.4}'
  lipsync <json>                play a viseme track, e.g. '[{"time":0,"viseme":"face_viseme_A"}]'

Use "broadcast" as the avatar id to send an emotion to every avatar.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runPush,
}

func init() {
	pushCmd.Flags().String("hub-url", "", "hub base URL")
	bindFlags(v, pushCmd.Flags(), map[string]string{"hub-url": "hub.url"})
}

func runPush(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}

	avatarID, command := args[0], args[1]
	body, err := pushBody(protocol.MessageType(command), args[2:])
	if err != nil {
		return err
	}
	if avatarID == "broadcast" && command != string(protocol.TypeEmotion) {
		return fmt.Errorf("only emotion can be broadcast")
	}

	endpoint, err := url.JoinPath(cfg.Hub.URL, "api", "avatars", avatarID, command)
	if err != nil {
		return err
	}

	var resp map[string]any
	if err := httpc.PostJSON(cmd.Context(), httpc.Client, endpoint, body, &resp); err != nil {
		return err
	}

	out, _ := json.Marshal(resp)
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

// pushBody builds the REST request body for a command.
func pushBody(command protocol.MessageType, args []string) (map[string]any, error) {
	switch command {
	case protocol.TypeEmotion:
		if len(args) < 1 {
			return nil, fmt.Errorf("emotion: name required")
		}
		body := map[string]any{"emotion": args[0]}
		if len(args) > 1 {
			intensity, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return nil, fmt.Errorf("emotion: intensity: %w", err)
			}
			body["intensity"] = intensity
		}
		return body, nil

	case protocol.TypeAnimation:
		if len(args) != 1 {
			return nil, fmt.Errorf("animation: name required")
		}
		return map[string]any{"animation": args[0]}, nil

	case protocol.TypeArousal:
		if len(args) != 1 {
			return nil, fmt.Errorf("arousal: level required")
		}
		level, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return nil, fmt.Errorf("arousal: %w", err)
		}
		return map[string]any{"level": level}, nil

	case protocol.TypeLookAt:
		if len(args) != 3 {
			return nil, fmt.Errorf("look_at: x y z required")
		}
		var coords [3]float64
		for i, a := range args {
			f, err := strconv.ParseFloat(a, 64)
			if err != nil {
				return nil, fmt.Errorf("look_at: %w", err)
			}
			coords[i] = f
		}
		return map[string]any{"target": map[string]float64{"x": coords[0], "y": coords[1], "z": coords[2]}}, nil

	case protocol.TypeMorph:
		if len(args) != 1 {
			return nil, fmt.Errorf("morph: weights json required")
		}
		var targets map[string]float64
		if err := json.Unmarshal([]byte(args[0]), &targets); err != nil {
			return nil, fmt.Errorf("morph: %w", err)
		}
		return map[string]any{"morph_targets": targets}, nil

	case protocol.TypeLipSync:
		if len(args) != 1 {
			return nil, fmt.Errorf("lipsync: frames json required")
		}
		var frames []protocol.LipSyncFrame
		if err := json.Unmarshal([]byte(args[0]), &frames); err != nil {
			return nil, fmt.Errorf("lipsync: %w", err)
		}
		return map[string]any{"data": frames}, nil
	}
	return nil, fmt.Errorf("unknown command %q", command)
}

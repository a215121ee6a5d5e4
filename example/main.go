package main

import (
	"fmt"

	"uescope/engine"
)

func main() {
	// 1. Attach to the target by name and run discovery. Discovery scans
	// the module image for the global signatures and validates every
	// candidate before anything downstream trusts it.
	e, err := engine.New(engine.Config{Mode: engine.ByName, ProcessName: "game"})
	if err != nil {
		fmt.Printf("Failed to attach: %v\n", err)
		return
	}
	defer e.Close()

	if err := e.Discover(); err != nil {
		fmt.Printf("Discovery failed: %v\n", err)
		return
	}
	fmt.Print(e.Status().String())

	// 2. The world handle rereads its cell on every call, so it stays
	// correct across map transitions.
	world, err := e.World()
	if err != nil || world == nil {
		fmt.Printf("No world yet: %v\n", err)
		return
	}
	path, _ := world.FullPath()
	fmt.Printf("world: %s at %s\n", path, world.Addr().String())

	// 3. Objects resolve by full path, fields by name through the class
	// metadata chain. Both resolutions are cached process-wide.
	pc, err := e.Objects().FindByPath("Engine.GameInstance.PlayerController")
	if err != nil {
		fmt.Printf("No player controller: %v\n", err)
		return
	}

	if health, err := pc.Field("Health"); err == nil {
		v, _ := health.Float32()
		fmt.Printf("health: %.1f\n", v)
	}

	// 4. Bool fields write through their packed mask, neighboring flags
	// in the same byte stay untouched.
	if god, err := pc.Field("bGodMode"); err == nil {
		if err := god.SetBool(true); err != nil {
			fmt.Printf("Failed to set flag: %v\n", err)
		}
	}

	// 5. Invoke runs the function inside the target through the object's
	// dispatcher slot and hands back the raw return word.
	if ret := pc.Invoke("GetHealth"); ret.OK() {
		fmt.Printf("GetHealth() = %.1f\n", ret.Float32())
	}
}

package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"uescope/engine"
	"uescope/hexdump"
	"uescope/memory"
)

func main() {
	pidFlag := flag.Int("pid", 0, "attach to this process ID")
	nameFlag := flag.String("name", "", "attach to the first process with this name")
	dumpFlag := flag.String("dump", "", "replay a saved dump directory instead of a live target")
	selfFlag := flag.Bool("self", false, "inspect our own process")

	statusFlag := flag.Bool("status", false, "print discovery status (the default action)")
	objectFlag := flag.String("object", "", "print an object by full path, e.g. Engine.GameInstance")
	fieldFlag := flag.String("field", "", "with -object, read one field by name")
	inspectFlag := flag.String("inspect", "", "hexdump target memory at this hex address")
	disasmFlag := flag.String("disasm", "", "disassemble target memory at this hex address")
	sizeFlag := flag.Int("size", 256, "byte count for -inspect and -disasm")
	saveFlag := flag.String("save", "", "save the target's readable regions as a dump directory")
	flag.Parse()

	e, err := attach(*pidFlag, *nameFlag, *dumpFlag, *selfFlag)
	if err != nil {
		fmt.Printf("Error attaching: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}
	defer e.Close()

	if err := e.Discover(); err != nil {
		fmt.Printf("Discovery failed: %v\n", err)
		fmt.Print(e.Status().String())
		os.Exit(1)
	}

	ran := false
	if *objectFlag != "" {
		showObject(e, *objectFlag, *fieldFlag)
		ran = true
	}
	if *inspectFlag != "" {
		showMemory(e, *inspectFlag, *sizeFlag, false)
		ran = true
	}
	if *disasmFlag != "" {
		showMemory(e, *disasmFlag, *sizeFlag, true)
		ran = true
	}
	if *saveFlag != "" {
		if err := saveDump(e, *saveFlag); err != nil {
			fmt.Printf("Error saving dump: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Saved dump to %s\n", *saveFlag)
		ran = true
	}
	if *statusFlag || !ran {
		fmt.Print(e.Status().String())
	}
}

func attach(pid int, name, dump string, self bool) (*engine.Engine, error) {
	switch {
	case dump != "":
		ch, err := memory.LoadDump(dump)
		if err != nil {
			return nil, err
		}
		return engine.NewWithChannel(ch, engine.Config{})
	case self:
		return engine.New(engine.Config{Mode: engine.InProcess})
	case name != "":
		return engine.New(engine.Config{Mode: engine.ByName, ProcessName: name})
	case pid != 0:
		return engine.New(engine.Config{Mode: engine.ByPID, PID: memory.ProcessID(pid)})
	}
	return nil, fmt.Errorf("one of -pid, -name, -dump or -self is required")
}

func showObject(e *engine.Engine, path, field string) {
	obj, err := e.Objects().FindByPath(path)
	if err != nil {
		fmt.Printf("Error resolving %s: %v\n", path, err)
		os.Exit(1)
	}

	full, _ := obj.FullPath()
	fmt.Printf("%s at %s\n", full, obj.Addr().String())

	cls, err := obj.Class()
	if err != nil {
		fmt.Printf("Error reading class: %v\n", err)
		os.Exit(1)
	}
	clsPath, _ := cls.FullPath()
	fmt.Printf("class %s at %s\n", clsPath, cls.Addr().String())

	if field != "" {
		f, err := obj.Field(field)
		if err != nil {
			fmt.Printf("Error resolving field %s: %v\n", field, err)
			os.Exit(1)
		}
		raw, err := f.Raw()
		if err != nil {
			fmt.Printf("Error reading field: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s %s at %s = 0x%x\n", f.TypeName(), field, f.Addr().String(), raw)
		return
	}

	if fields, err := cls.Fields(); err == nil && len(fields) > 0 {
		fmt.Println("fields:")
		for _, fd := range fields {
			fmt.Printf("  +0x%04x %-20s %s\n", uint64(fd.Offset), fd.TypeName, fd.Name)
		}
	}
	if funcs, err := cls.Functions(); err == nil && len(funcs) > 0 {
		fmt.Println("functions:")
		for _, fn := range funcs {
			fmt.Printf("  %s at %s flags 0x%x\n", fn.Name, fn.Addr.String(), fn.Flags)
		}
	}
}

func showMemory(e *engine.Engine, addrText string, size int, disasm bool) {
	addr, err := parseAddr(addrText)
	if err != nil {
		fmt.Printf("Error parsing address %q: %v\n", addrText, err)
		os.Exit(1)
	}

	var out string
	if disasm {
		out, err = hexdump.DisasmRead(e.Channel(), addr, memory.Size(size))
	} else {
		out, err = hexdump.DumpRead(e.Channel(), addr, memory.Size(size))
	}
	if err != nil {
		fmt.Printf("Error reading %s: %v\n", addr.String(), err)
		os.Exit(1)
	}
	fmt.Print(out)
}

func parseAddr(s string) (memory.Address, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 64)
	return memory.Address(v), err
}

// saveDump copies every readable region into a buffer channel and writes
// it out as a replayable dump
func saveDump(e *engine.Engine, dir string) error {
	ch := e.Channel()
	base, err := ch.GetBaseAddress()
	if err != nil {
		return err
	}
	regions, err := ch.GetMemoryMap()
	if err != nil {
		return err
	}

	out := memory.NewBufferChannel(ch.GetPID())
	out.SetBaseAddress(base)
	for _, r := range regions {
		if !r.Prot.CanRead() {
			continue
		}
		data, err := ch.ReadBytes(r.Base, r.Size)
		if err != nil {
			continue
		}
		out.AddRegion(r.Base, data, r.Prot, r.Path)
	}
	return out.Save(dir)
}

/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed Apr 11 10:05:13 2018 mstenber
 * Last modified: Fri Apr 20 17:55:46 2018 mstenber
 * Edit time:     44 min
 *
 */

package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/fingon/go-sectorfs/device"
	"github.com/fingon/go-sectorfs/device/factory"
	"github.com/fingon/go-sectorfs/fs"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage:\n\n%s [flags] IMAGEPATH\n", os.Args[0])
		flag.PrintDefaults()
	}
	backendp := flag.String("backend", "file",
		fmt.Sprintf("Device backend to use (possible: %v)", factory.List()))
	sectorsp := flag.Int("sectors", 16384, "Device capacity in sectors when creating an image")
	formatp := flag.Bool("format", false, "Format the image")
	password := flag.String("password", "", "Password for at-rest encryption (bolt/badger only)")
	salt := flag.String("salt", "salt", "Salt")

	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}
	path := flag.Arg(0)

	config := factory.CryptoDeviceConfiguration{
		Configuration: device.Configuration{
			Directory: path,
			Path:      path,
			Sectors:   device.Sector(*sectorsp),
		},
		DeviceName: *backendp,
		Password:   *password,
		Salt:       *salt,
	}
	var dev device.Device
	var err error
	if *password != "" || *backendp == "bolt" || *backendp == "badger" {
		dev, err = factory.NewCryptoDevice(config)
	} else {
		dev, err = factory.New(*backendp, config.Configuration)
	}
	if err != nil {
		log.Fatal(err)
	}

	engine, err := fs.New(dev, *formatp)
	if err != nil {
		dev.Close()
		log.Fatal(err)
	}
	defer engine.Close()

	root := engine.RootDir()
	fmt.Printf("image: %s (%s)\n", path, *backendp)
	fmt.Printf("sectors: %d (%d bytes)\n", dev.SectorCount(),
		int64(dev.SectorCount())*device.SectorSize)
	fmt.Printf("free sectors: %d\n", engine.FreeMap().FreeCount())
	fmt.Printf("root directory: %d bytes\n", root.Length())
	root.Close()

	reads, writes := engine.Cache().Stats()
	fmt.Printf("cache: %d reads, %d writes\n", reads, writes)
}

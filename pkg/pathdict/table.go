package pathdict

// byName is the static string->id table covering the well-known
// telemetry paths this link is tuned for. byID is its reverse.
var byName = map[string]uint16{
	"navigation.position":                                0x0101,
	"navigation.speedOverGround":                         0x0102,
	"navigation.speedThroughWater":                       0x0103,
	"navigation.courseOverGroundTrue":                    0x0104,
	"navigation.courseOverGroundMagnetic":                0x0105,
	"navigation.headingTrue":                             0x0106,
	"navigation.headingMagnetic":                         0x0107,
	"navigation.magneticVariation":                       0x0108,
	"navigation.magneticDeviation":                       0x0109,
	"navigation.rateOfTurn":                              0x010A,
	"navigation.attitude":                                0x010B,
	"navigation.gnss.antennaAltitude":                    0x010C,
	"navigation.gnss.satellites":                         0x010D,
	"navigation.gnss.horizontalDilution":                 0x010E,
	"navigation.gnss.geoidalSeparation":                  0x010F,
	"navigation.gnss.type":                               0x0110,
	"navigation.gnss.methodQuality":                      0x0111,
	"navigation.gnss.integrity":                          0x0112,
	"navigation.state":                                   0x0113,
	"navigation.log":                                     0x0114,
	"navigation.logTrip":                                 0x0115,
	"navigation.destination.waypoint":                    0x0116,
	"navigation.destination.eta":                         0x0117,
	"navigation.anchor.position":                         0x0118,
	"navigation.anchor.maxRadius":                        0x0119,
	"navigation.trip.log":                                0x011A,
	"navigation.racing.startLineStb":                     0x011B,
	"navigation.racing.startLinePort":                    0x011C,
	"environment.wind.speedApparent":                     0x011D,
	"environment.wind.angleApparent":                     0x011E,
	"environment.wind.speedTrue":                         0x011F,
	"environment.wind.angleTrueWater":                    0x0120,
	"environment.wind.angleTrueGround":                   0x0121,
	"environment.wind.directionTrue":                     0x0122,
	"environment.depth.belowTransducer":                  0x0123,
	"environment.depth.belowKeel":                        0x0124,
	"environment.depth.belowSurface":                     0x0125,
	"environment.depth.surfaceToTransducer":              0x0126,
	"environment.water.temperature":                      0x0127,
	"environment.water.salinity":                         0x0128,
	"environment.outside.temperature":                    0x0129,
	"environment.outside.pressure":                       0x012A,
	"environment.outside.humidity":                       0x012B,
	"environment.inside.temperature":                     0x012C,
	"environment.inside.pressure":                        0x012D,
	"environment.inside.humidity":                        0x012E,
	"environment.inside.engineRoom.temperature":          0x012F,
	"environment.inside.refrigerator.temperature":        0x0130,
	"environment.inside.freezer.temperature":             0x0131,
	"environment.tide.heightHigh":                        0x0132,
	"environment.tide.heightLow":                         0x0133,
	"environment.tide.timeHigh":                          0x0134,
	"environment.tide.timeLow":                           0x0135,
	"environment.current.drift":                          0x0136,
	"environment.current.setTrue":                        0x0137,
	"environment.uv.index":                               0x0138,
	"environment.heave":                                  0x0139,
	"electrical.batteries.voltage":                       0x013A,
	"electrical.batteries.current":                       0x013B,
	"electrical.batteries.temperature":                   0x013C,
	"electrical.batteries.capacity.stateOfCharge":        0x013D,
	"electrical.batteries.capacity.stateOfHealth":        0x013E,
	"electrical.batteries.capacity.timeRemaining":        0x013F,
	"electrical.batteries.capacity.dischargeSinceFull":   0x0140,
	"electrical.batteries.lifetimeDischarge":             0x0141,
	"electrical.batteries.lifetimeRecharge":              0x0142,
	"electrical.alternators.voltage":                     0x0143,
	"electrical.alternators.current":                     0x0144,
	"electrical.alternators.revolutions":                 0x0145,
	"electrical.solar.voltage":                           0x0146,
	"electrical.solar.current":                           0x0147,
	"electrical.solar.panelPower":                        0x0148,
	"electrical.chargers.chargingMode":                   0x0149,
	"electrical.chargers.voltage":                        0x014A,
	"electrical.chargers.current":                        0x014B,
	"electrical.inverters.ac.voltage":                    0x014C,
	"electrical.inverters.ac.current":                    0x014D,
	"electrical.inverters.dc.voltage":                    0x014E,
	"electrical.shorePower.connected":                    0x014F,
	"electrical.shorePower.voltage":                      0x0150,
	"electrical.switches.bank.state":                     0x0151,
	"propulsion.revolutions":                             0x0152,
	"propulsion.temperature":                             0x0153,
	"propulsion.oilTemperature":                          0x0154,
	"propulsion.oilPressure":                             0x0155,
	"propulsion.coolantTemperature":                      0x0156,
	"propulsion.coolantPressure":                         0x0157,
	"propulsion.boostPressure":                           0x0158,
	"propulsion.intakeManifoldTemperature":               0x0159,
	"propulsion.exhaustTemperature":                      0x015A,
	"propulsion.fuel.rate":                               0x015B,
	"propulsion.fuel.pressure":                           0x015C,
	"propulsion.fuel.used":                               0x015D,
	"propulsion.runTime":                                 0x015E,
	"propulsion.alternatorVoltage":                       0x015F,
	"propulsion.transmission.gear":                       0x0160,
	"propulsion.transmission.oilTemperature":             0x0161,
	"propulsion.transmission.oilPressure":                0x0162,
	"propulsion.state":                                   0x0163,
	"propulsion.throttlePosition":                        0x0164,
	"tanks.fuel.currentLevel":                            0x0165,
	"tanks.fuel.capacity":                                0x0166,
	"tanks.freshWater.currentLevel":                      0x0167,
	"tanks.freshWater.capacity":                          0x0168,
	"tanks.wasteWater.currentLevel":                      0x0169,
	"tanks.wasteWater.capacity":                          0x016A,
	"tanks.blackWater.currentLevel":                      0x016B,
	"tanks.blackWater.capacity":                          0x016C,
	"tanks.lubrication.currentLevel":                     0x016D,
	"tanks.ballast.currentLevel":                         0x016E,
	"steering.rudderAngle":                               0x016F,
	"steering.autopilot.state":                           0x0170,
	"steering.autopilot.target.headingTrue":              0x0171,
	"steering.autopilot.target.headingMagnetic":          0x0172,
	"steering.autopilot.target.windAngleApparent":        0x0173,
	"steering.autopilot.mode":                            0x0174,
	"notifications.signalk-edge-link.linkFailover":       0x0175,
	"notifications.signalk-edge-link.linkQuality":        0x0176,
	"notifications.signalk-edge-link.packetLoss":         0x0177,
	"notifications.mob":                                  0x0178,
	"notifications.engine.overTemperature":               0x0179,
	"notifications.battery.lowVoltage":                   0x017A,
	"notifications.anchor.dragging":                      0x017B,
	"notifications.navigation.gnss.noFix":                0x017C,
	"notifications.security.geofence":                    0x017D,
	"notifications.server.connectionLost":                0x017E,
	"design.length.overall":                              0x017F,
	"design.length.waterline":                            0x0180,
	"design.beam":                                        0x0181,
	"design.draft.maximum":                               0x0182,
	"design.draft.current":                               0x0183,
	"design.airHeight":                                   0x0184,
	"design.displacement":                                0x0185,
	"sensors.gps.fromBow":                                0x0186,
	"sensors.gps.fromCenter":                             0x0187,
	"performance.velocityMadeGood":                       0x0188,
	"performance.targetSpeed":                            0x0189,
	"performance.polarSpeed":                             0x018A,
	"performance.polarSpeedRatio":                        0x018B,
	"performance.tackMagnetic":                           0x018C,
	"performance.tackTrue":                               0x018D,
	"performance.leeway":                                 0x018E,
	"communication.callsignVhf":                          0x018F,
	"network.server.uptime":                              0x0190,
	"navigation.position.latitude":                       0x0191,
	"navigation.position.longitude":                      0x0192,
	"navigation.position.altitude":                       0x0193,
	"navigation.speedOverGroundReference":                0x0194,
	"navigation.courseGreatCircle.nextPoint.distance":    0x0195,
	"navigation.courseGreatCircle.nextPoint.bearingTrue": 0x0196,
	"navigation.courseRhumbline.nextPoint.distance":      0x0197,
	"electrical.batteries.nominalVoltage":                0x0198,
	"electrical.batteries.amperageDraw":                  0x0199,
	"propulsion.engineLoad":                              0x019A,
	"propulsion.engineTorque":                            0x019B,
	"propulsion.trimTab.port":                            0x019C,
	"propulsion.trimTab.starboard":                       0x019D,
	"environment.wind.chill":                             0x019E,
	"environment.dewPointTemperature":                    0x019F,
	"environment.heaveAcceleration":                      0x01A0,
	"environment.mode":                                   0x01A1,
	"environment.time":                                   0x01A2,
	"environment.date":                                   0x01A3,
	"tanks.wasteOil.currentLevel":                        0x01A4,
	"tanks.liveWell.currentLevel":                        0x01A5,
	"steering.autopilot.deadZone":                        0x01A6,
	"steering.autopilot.engaged":                         0x01A7,
	"notifications.vessel.draft.exceeded":                0x01A8,
	"notifications.waypoint.arrival":                     0x01A9,
	"communication.crewNamePhone":                        0x01AA,
	"design.keel":                                        0x01AB,
	"design.rigging.type":                                0x01AC}

var byID = reverse(byName)

func reverse(m map[string]uint16) map[uint16]string {
	out := make(map[uint16]string, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

package testutil

// Fixtures shaped like ESP server responses. They describe one project
// "trades" with a continuous query "cq" holding a source window "src" and a
// filter window "big".

// TradesSchemaString is the schema of both fixture windows in compact form
const TradesSchemaString = "id*:int64,symbol:string,price:double"

// TradesProjectXML is a project definition as returned by projectXml
const TradesProjectXML = `<project name="trades" pubsub="auto" threads="2">
  <metadata><meta id="owner">ops</meta></metadata>
  <contqueries>
    <contquery name="cq">
      <windows>
        <window-source name="src" insert-only="true">
          <schema><fields>
            <field name="id" type="int64" key="true"/>
            <field name="symbol" type="string"/>
            <field name="price" type="double"/>
          </fields></schema>
        </window-source>
        <window-filter name="big">
          <expression><![CDATA[price > 100]]></expression>
        </window-filter>
      </windows>
      <edges><edge source="src" target="big"/></edges>
    </contquery>
  </contqueries>
</project>`

// ProjectsXML wraps the trades project in the projectXml listing envelope
const ProjectsXML = `<projects>` + TradesProjectXML + `</projects>`

// ProjectMetadataXML is the projectMetadata response of the trades project
const ProjectMetadataXML = `<metadata><project name="trades">` +
	`<metadata><meta id="owner">ops</meta><meta id="tier">gold</meta></metadata>` +
	`<contquery id="cq"><metadata><meta id="purpose">filter</meta></metadata></contquery>` +
	`</project></metadata>`

// WindowsXML is a windowXml response listing both windows
const WindowsXML = `<windows>
  <window-source name="src" project="trades" contquery="cq" insert-only="true">
    <schema><fields>
      <field name="id" type="int64" key="true"/>
      <field name="symbol" type="string"/>
      <field name="price" type="double"/>
    </fields></schema>
  </window-source>
  <window-filter name="big" project="trades" contquery="cq">
    <schema><fields>
      <field name="id" type="int64" key="true"/>
      <field name="symbol" type="string"/>
      <field name="price" type="double"/>
    </fields></schema>
    <expression><![CDATA[price > 100]]></expression>
  </window-filter>
</windows>`

// SourceWindowXML is the windows/trades/cq/src?schema=true response
const SourceWindowXML = `<windows>
  <window-source name="src" insert-only="true">
    <schema><fields>
      <field name="id" type="int64" key="true"/>
      <field name="symbol" type="string"/>
      <field name="price" type="double"/>
    </fields></schema>
  </window-source>
</windows>`

// TradeEventsXML holds two events of the source window
const TradeEventsXML = `<events>
  <event opcode="insert" window="trades/cq/src"><id>1</id><symbol>IBM</symbol><price>101.5</price></event>
  <event opcode="insert" window="trades/cq/src"><id>2</id><symbol>SAS</symbol><price>99.25</price></event>
</events>`

// TradeSchemaMessage is the schema message a subscriber receives first
const TradeSchemaMessage = `<schema><fields>` +
	`<field name="id" type="int64" key="true"/>` +
	`<field name="symbol" type="string"/>` +
	`<field name="price" type="double"/>` +
	`</fields></schema>`

// TradeEventMessage returns one subscriber event message for the source
// window
func TradeEventMessage(opcode, id, symbol, price string) string {
	return `<events><event opcode="` + opcode + `" window="trades/cq/src">` +
		`<id>` + id + `</id><symbol>` + symbol + `</symbol><price>` + price + `</price>` +
		`</event></events>`
}

// LoggersXML lists two server loggers
const LoggersXML = `<loggers>` +
	`<logger name="DF.ESP" level="INFO"/>` +
	`<logger name="DF.ESP.AUTH" level="warning"/>` +
	`</loggers>`

// ConnectorInfoXML describes the fs connector
const ConnectorInfoXML = `<connectors>
  <connector label="fs" type="publish" pubsub="true">
    <required-parms>
      <parm key="fsname"><default></default></parm>
      <parm key="fstype"><default>csv</default><allowed-values><allowed-value>csv</allowed-value><allowed-value>xml</allowed-value></allowed-values></parm>
    </required-parms>
    <optional-parms>
      <parm key="blocksize"><default>1</default></parm>
      <parm key="rate"><default>0.5</default></parm>
      <parm key="header"><default>false</default></parm>
    </optional-parms>
  </connector>
</connectors>`
